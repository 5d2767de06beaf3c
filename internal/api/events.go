package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/erazemk/lostfound/internal/claims"
	"github.com/erazemk/lostfound/internal/model"
	"github.com/erazemk/lostfound/internal/notify"
)

// heartbeatInterval keeps idle event streams open through proxies.
const heartbeatInterval = 25 * time.Second

// sseWriter serializes writes to a Server-Sent Events response.
type sseWriter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

// startStream writes the event stream headers and returns a writer for it.
func startStream(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)
	// Streams outlive the server's write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("clearing write deadline", "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s := &sseWriter{w: w, rc: rc}
	return s, s.comment("connected")
}

func (s *sseWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	return s.rc.Flush()
}

func (s *sseWriter) comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, ": %s\n\n", text)
	return s.rc.Flush()
}

// keepAlive starts the heartbeat and returns a func that stops it and waits
// for it to exit. The handler must call it before returning.
func (s *sseWriter) keepAlive(ctx context.Context, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.heartbeat(ctx, cancel)
	}()
	return func() {
		cancel()
		<-done
	}
}

// heartbeat sends a comment every heartbeatInterval until ctx is done or a
// write fails, in which case cancel is called.
func (s *sseWriter) heartbeat(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.comment("ping"); err != nil {
				cancel()
				return
			}
		}
	}
}

// EventStream serves change events as Server-Sent Events until the client
// disconnects. Clients re-fetch on every "change" event.
func EventStream(hub *notify.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		events, unsubscribe := hub.Subscribe(ctx)
		defer unsubscribe()

		stream, err := startStream(w)
		if err != nil {
			return
		}
		defer stream.keepAlive(ctx, cancel)()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := stream.send("change", ev); err != nil {
					slog.Debug("event stream closed", "error", err)
					return
				}
			}
		}
	})
}

// OwnerClaimsStream serves the caller's review list as Server-Sent Events:
// the full list on connect and again after every change to items or claims.
func OwnerClaimsStream(engine *claims.Engine, hub *notify.Hub) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		viewer := Caller(ctx).UserID()

		stream, err := startStream(w)
		if err != nil {
			return
		}
		defer stream.keepAlive(ctx, cancel)()

		err = notify.Watch(ctx, hub, func(ctx context.Context) error {
			list, err := engine.ListOwnerClaims(ctx, viewer)
			if err != nil {
				return err
			}
			if err := stream.send("claims", NewOwnerClaimViews(list, viewer, time.Now())); err != nil {
				cancel()
			}
			return nil
		}, model.TableItems, model.TableClaims)
		if err != nil {
			status, message := ErrorStatus(err)
			if status >= http.StatusInternalServerError {
				slog.Error("streaming owner claims", "error", err)
			}
			stream.send("error", map[string]string{"error": message})
		}
	})
}
