package cli

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/dmitrijs2005/expiryx/internal/client/config"
	"github.com/dmitrijs2005/expiryx/internal/client/httpapi"
	"github.com/dmitrijs2005/expiryx/internal/client/ledger"
	"github.com/dmitrijs2005/expiryx/internal/client/ledger/remote"
	"github.com/dmitrijs2005/expiryx/internal/client/lifecycle"
	"github.com/dmitrijs2005/expiryx/internal/client/services"
	"github.com/dmitrijs2005/expiryx/internal/client/syncer"
	"github.com/dmitrijs2005/expiryx/internal/proto"
	"github.com/dmitrijs2005/expiryx/internal/wallet"
)

const pingTimeout = 3 * time.Second

// session is everything that needs the unlocked key: the adapter signing
// as the principal, the engine and the services on top.
type session struct {
	principal   string
	adapter     ledger.Adapter
	engine      *syncer.Engine
	permissions services.PermissionService
	resources   services.ResourceService

	cancel context.CancelFunc
	group  *errgroup.Group
	close  func() error
}

// startSession builds the ledger stack for key and starts the background
// work: the poll loop, the connectivity watcher and the dashboard API.
func (a *App) startSession(ctx context.Context, key ed25519.PrivateKey) error {
	a.endSession()

	var (
		adapter ledger.Adapter
		links   services.ResourceLinks
		signer  *wallet.Signer
		closeFn = func() error { return nil }
	)
	switch a.config.Mode {
	case config.ModeRemote:
		conn, err := grpc.NewClient(a.config.LedgerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("dial ledger %s: %w", a.config.LedgerAddr, err)
		}
		node := proto.NewClient(conn)
		signer = wallet.NewSigner(key, node)
		adapter = remote.New(node, signer,
			remote.WithBroadcastTimeout(a.config.BroadcastTimeout),
			remote.WithConfirmTimeout(a.config.ConfirmTimeout),
			remote.WithLogger(a.log))
		links = node
		closeFn = conn.Close
	default:
		signer = wallet.NewSigner(key, nil)
		adapter = a.sim.As(signer.Address())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine := syncer.New(adapter, a.store, a.config.Sync,
		syncer.WithLogger(a.log),
		syncer.WithMetrics(syncer.NewMetrics(reg)))
	machine := lifecycle.New(engine, lifecycle.WithLogger(a.log))
	perms := services.NewPermissionService(machine, engine, a.store)

	s := &session{
		principal:   perms.Principal(),
		adapter:     adapter,
		engine:      engine,
		permissions: perms,
		resources:   services.NewResourceService(links, signer, machine, http.DefaultClient),
	}

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(bg)
	s.cancel = cancel
	s.group = g
	s.close = func() error {
		engine.Close()
		return closeFn()
	}

	g.Go(func() error {
		err := engine.Run(gctx, s.principal)
		if errors.Is(err, context.Canceled) || errors.Is(err, syncer.ErrClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		a.watchLink(gctx, adapter, a.config.OnlineCheckInterval)
		return nil
	})
	if addr := a.config.DashboardAddr; addr != "" {
		api := httpapi.New(perms, reg, a.log)
		g.Go(func() error {
			if err := api.ListenAndServe(gctx, addr); err != nil {
				a.log.Error(gctx, "dashboard API stopped", "error", err)
			}
			return nil
		})
	}

	a.mu.Lock()
	a.session = s
	a.link = LinkUnknown
	a.mu.Unlock()

	a.log.Info(ctx, "session started", "principal", s.principal, "mode", a.config.Mode)
	return nil
}

// endSession stops the background work and drains in-flight submissions.
func (a *App) endSession() {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()
	if s == nil {
		return
	}

	s.cancel()
	if err := s.group.Wait(); err != nil {
		a.log.Warn(context.Background(), "session background work failed", "error", err)
	}
	if err := s.close(); err != nil {
		a.log.Warn(context.Background(), "closing ledger connection", "error", err)
	}
}

// watchLink asks the ledger for its capabilities every interval and
// records whether it answered.
func (a *App) watchLink(ctx context.Context, adapter ledger.Adapter, interval time.Duration) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if _, err := adapter.Capabilities(pctx); err != nil {
			if ctx.Err() == nil {
				a.setLink(LinkOffline)
			}
			return
		}
		a.setLink(LinkOnline)
	}

	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}
