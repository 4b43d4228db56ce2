package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/dmitrijs2005/expiryx/internal/client/cache"
	"github.com/dmitrijs2005/expiryx/internal/client/config"
	"github.com/dmitrijs2005/expiryx/internal/client/ledger/simulated"
	"github.com/dmitrijs2005/expiryx/internal/client/services"
	"github.com/dmitrijs2005/expiryx/internal/logging"
)

// Link is the reachability of the ledger as last observed.
type Link string

const (
	LinkUnknown Link = ""
	LinkOnline  Link = "online"
	LinkOffline Link = "offline"
)

type App struct {
	config  *config.Config
	log     logging.Logger
	reader  *bufio.Reader
	out     io.Writer
	backend *cache.Backend
	store   *cache.Store
	wallets services.WalletService

	// sim is the in-process ledger in simulated mode, shared by every
	// session.
	sim *simulated.Ledger

	mu      sync.Mutex
	link    Link
	session *session
}

// NewApp opens the cache and, in simulated mode, the simulated ledger.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	if log == nil {
		log = logging.Nop()
	}

	b, err := cache.Open(ctx, c.Cache)
	if err != nil {
		return nil, fmt.Errorf("error initializing cache: %w", err)
	}
	store := cache.New(b, log)
	if err := store.Init(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}

	a := &App{
		config:  c,
		log:     log.With("module", "cli"),
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		backend: b,
		store:   store,
		wallets: services.NewWalletService(b.Metadata),
	}

	if c.Mode == config.ModeSimulated {
		opts := c.SimulatedOptions()
		opts.Logger = log
		a.sim, err = simulated.Open(opts)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("error opening simulated ledger: %w", err)
		}
	}
	return a, nil
}

// Run starts the REPL and blocks until the user exits or ctx is done.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	fmt.Fprintf(a.out, "expiryx (%s mode), type 'help' for commands\n", a.config.Mode)
	if ok, err := a.wallets.Exists(ctx); err == nil && !ok {
		fmt.Fprintln(a.out, "No wallet yet: run 'wallet create'.")
	}
	runREPL(ctx, a, a.status, bufio.NewScanner(a.reader))
	return nil
}

// Close ends the session and releases the cache.
func (a *App) Close() {
	a.endSession()
	if err := a.backend.Close(); err != nil {
		a.log.Warn(context.Background(), "closing cache", "error", err)
	}
}

func (a *App) unlocked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

func (a *App) current() *session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

func (a *App) setLink(l Link) {
	a.mu.Lock()
	changed := a.link != l
	a.link = l
	a.mu.Unlock()
	if changed {
		a.log.Info(context.Background(), "ledger link changed", "link", l)
	}
}

func (a *App) status() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return "locked"
	}
	s := shortAddress(a.session.principal)
	if a.link != LinkUnknown {
		s += " " + string(a.link)
	}
	return s
}
