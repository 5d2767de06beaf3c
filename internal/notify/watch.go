package notify

import (
	"context"
	"log/slog"

	"github.com/erazemk/lostfound/internal/model"
)

// Watch calls refetch once up front and again after every change event on
// the given tables (all tables if none are given). Events that arrive while
// a re-fetch is running are coalesced into one more re-fetch. Watch returns
// when ctx is done, and the subscription is released before it returns.
func Watch(ctx context.Context, hub *Hub, refetch func(ctx context.Context) error, tables ...string) error {
	events, unsubscribe := hub.Subscribe(ctx)
	defer unsubscribe()

	if err := refetch(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !matches(ev, tables) {
				continue
			}
			drain(events)
			if err := refetch(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("refetching after change", "table", ev.Table, "error", err)
			}
		}
	}
}

func matches(ev model.ChangeEvent, tables []string) bool {
	if len(tables) == 0 {
		return true
	}
	for _, t := range tables {
		if ev.Table == t {
			return true
		}
	}
	return false
}

func drain(events <-chan model.ChangeEvent) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
