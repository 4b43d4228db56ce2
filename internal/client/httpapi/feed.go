package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/client/services"
)

const feedWriteTimeout = 5 * time.Second

// FeedEvent is one message of the websocket feed. Every event carries the
// full list of the principal's permissions.
type FeedEvent struct {
	// Type is "snapshot" for the first message and "changed" after.
	Type        string                  `json:"type"`
	Permissions []models.PermissionView `json:"permissions"`
}

// feed streams the permission views to a websocket client. A slow client
// only ever gets the latest state; intermediate updates are dropped.
func (s *Server) feed(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	latest := make(chan []models.PermissionView, 1)
	unsubscribe := s.svc.OnRecordsChanged(func(views []models.PermissionView) {
		for {
			select {
			case latest <- views:
				return
			default:
			}
			select {
			case <-latest:
			default:
			}
		}
	})
	defer unsubscribe()

	views, err := s.svc.List(ctx, services.ListFilter{})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "list failed")
		return
	}
	if err := s.write(ctx, conn, FeedEvent{Type: "snapshot", Permissions: views}); err != nil {
		return
	}

	// The feed is one-way; reading detects the client going away.
	ctx = conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case views := <-latest:
			if err := s.write(ctx, conn, FeedEvent{Type: "changed", Permissions: views}); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, ev FeedEvent) error {
	wctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, ev); err != nil {
		s.log.Debug(ctx, "feed write failed", "error", err)
		_ = conn.Close(websocket.StatusGoingAway, "write failed")
		return err
	}
	return nil
}
