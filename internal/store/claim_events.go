package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/lostfound/internal/model"
)

// CreateClaimEvent records a claim status change.
func CreateClaimEvent(ctx context.Context, db DBTX, ev model.ClaimEvent) (*model.ClaimEvent, error) {
	ev.ID = newID()
	ev.CreatedAt = now()

	_, err := db.ExecContext(ctx,
		`INSERT INTO claim_events (id, claim_id, item_id, from_status, to_status, actor_id, note, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.ClaimID, ev.ItemID, nullable(ev.FromStatus), ev.ToStatus,
		nullable(ev.ActorID), nullable(ev.Note), ev.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("recording claim event: %w", translate(err))
	}
	return &ev, nil
}

// ListItemHistory returns the claim events of an item, newest first.
func ListItemHistory(ctx context.Context, db DBTX, itemID string) ([]model.ClaimEvent, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT e.id, e.claim_id, e.item_id, e.from_status, e.to_status, e.actor_id, e.note, e.created_at,
		        COALESCE(NULLIF(u.name, ''), u.username, '')
		 FROM claim_events e
		 LEFT JOIN users u ON u.id = e.actor_id
		 WHERE e.item_id = ?
		 ORDER BY e.created_at DESC, e.rowid DESC`, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing item history: %w", translate(err))
	}
	defer rows.Close()

	var events []model.ClaimEvent
	for rows.Next() {
		var ev model.ClaimEvent
		var from, actor, note sql.NullString
		if err := rows.Scan(&ev.ID, &ev.ClaimID, &ev.ItemID, &from, &ev.ToStatus, &actor, &note,
			&ev.CreatedAt, &ev.ActorName); err != nil {
			return nil, fmt.Errorf("scanning claim event: %w", err)
		}
		ev.FromStatus = from.String
		ev.ActorID = actor.String
		ev.Note = note.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
