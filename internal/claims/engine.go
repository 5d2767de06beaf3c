// Package claims implements the claim lifecycle: submitting claims on items,
// approving or rejecting them, and keeping each item's status consistent
// with the claims against it.
package claims

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/lostfound/internal/model"
	"github.com/erazemk/lostfound/internal/store"
)

// DefaultTimeout bounds every engine call that does not set its own deadline.
const DefaultTimeout = 5 * time.Second

// Publisher receives a change event after every committed write.
type Publisher interface {
	Publish(ev model.ChangeEvent)
}

// Engine runs lifecycle transitions against the database.
type Engine struct {
	DB        *sql.DB
	Publisher Publisher
	Timeout   time.Duration
}

// New returns an engine. A nil publisher disables change events.
func New(db *sql.DB, pub Publisher, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Engine{DB: db, Publisher: pub, Timeout: timeout}
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *Engine) publish(events ...model.ChangeEvent) {
	if e.Publisher == nil {
		return
	}
	for _, ev := range events {
		e.Publisher.Publish(ev)
	}
}

// Submit creates a pending claim by claimerID on itemID and moves the item
// to pending_claim. A claimer has at most one claim per item; a second
// attempt returns a *model.DuplicateClaimError whether it is caught by the
// lookup or by the database constraint.
func (e *Engine) Submit(ctx context.Context, itemID, claimerID, message string) (*model.Claim, error) {
	message, err := model.NormalizeClaimMessage(message)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	existing, err := store.FindExistingClaim(ctx, e.DB, itemID, claimerID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		slog.Warn("duplicate claim", "item", itemID, "claimer", claimerID, "existing", existing.ID)
		return nil, &model.DuplicateClaimError{Existing: existing}
	}

	var claim *model.Claim
	var itemChanged bool
	err = store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		item, err := store.GetItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if item == nil || item.DeletedAt != nil {
			return model.ErrDanglingReference
		}
		if item.OwnerID == claimerID {
			return &model.ValidationError{Field: "item_id", Message: "you cannot claim your own item"}
		}
		if item.Status == model.ItemStatusClaimed {
			return fmt.Errorf("item already claimed: %w", model.ErrInvalidTransition)
		}

		claim, err = store.CreateClaim(ctx, tx, itemID, claimerID, message)
		if err != nil {
			return err
		}

		if _, err := store.CreateClaimEvent(ctx, tx, model.ClaimEvent{
			ClaimID:  claim.ID,
			ItemID:   itemID,
			ToStatus: model.ClaimStatusPending,
			ActorID:  claimerID,
		}); err != nil {
			return err
		}

		if item.Status != model.ItemStatusPendingClaim {
			if _, err := store.SetItemStatus(ctx, tx, itemID, model.ItemStatusPendingClaim); err != nil {
				return err
			}
			itemChanged = true
		}
		return nil
	})
	if err != nil {
		var dup *model.DuplicateClaimError
		if errors.As(err, &dup) {
			slog.Warn("duplicate claim", "item", itemID, "claimer", claimerID)
		}
		return nil, err
	}

	slog.Info("claim submitted", "claim", claim.ID, "item", itemID, "claimer", claimerID)
	events := []model.ChangeEvent{{Table: model.TableClaims, Op: model.OpInsert, ID: claim.ID, ItemID: itemID}}
	if itemChanged {
		events = append(events, model.ChangeEvent{Table: model.TableItems, Op: model.OpUpdate, ID: itemID, ItemID: itemID})
	}
	e.publish(events...)

	return claim, nil
}

// Decide approves or rejects a pending claim on behalf of the item's owner.
//
// Approving a claim rejects every other pending claim on the item with
// model.VoidedNote and marks the item claimed. Rejecting the last pending
// claim reopens the item under its original kind. The claim write happens
// before the item write, both in one transaction.
func (e *Engine) Decide(ctx context.Context, claimID, ownerID, decision, note string) (*model.Claim, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var (
		claim   *model.Claim
		voided  []model.Claim
		item    *model.Item
		oldItem string
	)
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		c, err := store.GetClaim(ctx, tx, claimID)
		if err != nil {
			return err
		}
		if c == nil {
			return model.ErrUnauthorized
		}

		it, err := store.GetItem(ctx, tx, c.ItemID)
		if err != nil {
			return err
		}
		if it == nil {
			return model.ErrDanglingReference
		}
		if it.OwnerID != ownerID {
			return model.ErrUnauthorized
		}
		if !model.ValidDecision(decision) {
			return fmt.Errorf("invalid decision %q: %w", decision, model.ErrInvalidTransition)
		}
		if c.Status != model.ClaimStatusPending {
			return model.ErrInvalidTransition
		}
		if it.DeletedAt != nil {
			return model.ErrDanglingReference
		}

		// The update only applies while the claim is still pending, so a
		// concurrent decision loses here.
		if err := store.UpdateClaimStatus(ctx, tx, claimID, decision, note); err != nil {
			return err
		}
		if _, err := store.CreateClaimEvent(ctx, tx, model.ClaimEvent{
			ClaimID:    claimID,
			ItemID:     it.ID,
			FromStatus: model.ClaimStatusPending,
			ToStatus:   decision,
			ActorID:    ownerID,
			Note:       note,
		}); err != nil {
			return err
		}

		if decision == model.ClaimStatusApproved {
			voided, err = voidSiblings(ctx, tx, it.ID, claimID, ownerID)
			if err != nil {
				return err
			}
		}

		oldItem = it.Status
		item, err = deriveAndSet(ctx, tx, it)
		if err != nil {
			return err
		}

		claim, err = store.GetClaim(ctx, tx, claimID)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrUnauthorized):
			slog.Warn("claim decision refused", "claim", claimID, "user", ownerID)
		case errors.Is(err, model.ErrInvalidTransition):
			slog.Warn("claim already processed", "claim", claimID, "decision", decision)
		}
		return nil, err
	}

	if decision == model.ClaimStatusApproved {
		slog.Info("claim approved", "claim", claimID, "item", item.ID)
	} else {
		slog.Info("claim rejected", "claim", claimID, "item", item.ID)
	}
	if len(voided) > 0 {
		slog.Info("sibling claims voided", "item", item.ID, "count", len(voided))
	}
	if item.Status == item.Kind && oldItem != item.Kind {
		slog.Info("item reopened", "item", item.ID, "status", item.Status)
	}

	events := []model.ChangeEvent{{Table: model.TableClaims, Op: model.OpUpdate, ID: claimID, ItemID: item.ID}}
	for _, v := range voided {
		events = append(events, model.ChangeEvent{Table: model.TableClaims, Op: model.OpUpdate, ID: v.ID, ItemID: item.ID})
	}
	if item.Status != oldItem {
		events = append(events, model.ChangeEvent{Table: model.TableItems, Op: model.OpUpdate, ID: item.ID, ItemID: item.ID})
	}
	e.publish(events...)

	return claim, nil
}

// voidSiblings rejects the pending claims on itemID other than approvedID.
func voidSiblings(ctx context.Context, tx store.DBTX, itemID, approvedID, actorID string) ([]model.Claim, error) {
	siblings, err := store.ListPendingSiblings(ctx, tx, itemID, approvedID)
	if err != nil {
		return nil, err
	}
	return siblings, rejectAll(ctx, tx, itemID, siblings, actorID, model.VoidedNote)
}

// rejectAll moves pending claims to rejected with a system note, recording
// each change in the claim history.
func rejectAll(ctx context.Context, tx store.DBTX, itemID string, pending []model.Claim, actorID, note string) error {
	for _, c := range pending {
		if err := store.UpdateClaimStatus(ctx, tx, c.ID, model.ClaimStatusRejected, note); err != nil {
			return err
		}
		if _, err := store.CreateClaimEvent(ctx, tx, model.ClaimEvent{
			ClaimID:    c.ID,
			ItemID:     itemID,
			FromStatus: model.ClaimStatusPending,
			ToStatus:   model.ClaimStatusRejected,
			ActorID:    actorID,
			Note:       note,
		}); err != nil {
			return err
		}
	}
	return nil
}

// deriveAndSet writes the status implied by the item's claims if it differs
// from the stored one.
func deriveAndSet(ctx context.Context, tx store.DBTX, item *model.Item) (*model.Item, error) {
	statuses, err := store.ItemClaimStatuses(ctx, tx, item.ID)
	if err != nil {
		return nil, err
	}
	derived := model.DeriveItemStatus(item.Kind, statuses)
	if derived == item.Status {
		return item, nil
	}
	return store.SetItemStatus(ctx, tx, item.ID, derived)
}

// Reconcile repairs an item whose stored status disagrees with its claims.
// Deleted items are left alone.
func (e *Engine) Reconcile(ctx context.Context, itemID string) (*model.Item, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var item *model.Item
	var before string
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		it, err := store.GetItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if it == nil {
			return model.ErrDanglingReference
		}
		if it.DeletedAt != nil {
			item = it
			return nil
		}
		before = it.Status
		item, err = deriveAndSet(ctx, tx, it)
		return err
	})
	if err != nil {
		return nil, err
	}

	if item.DeletedAt == nil && item.Status != before {
		slog.Info("item reconciled", "item", item.ID, "from", before, "to", item.Status)
		e.publish(model.ChangeEvent{Table: model.TableItems, Op: model.OpUpdate, ID: item.ID, ItemID: item.ID})
	}
	return item, nil
}

// ReconcileAll repairs every item whose status has drifted from its claims
// and returns how many were fixed.
func (e *Engine) ReconcileAll(ctx context.Context) (int, error) {
	listCtx, cancel := e.withTimeout(ctx)
	drift, err := store.ListStatusDrift(listCtx, e.DB)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("finding drifted items: %w", err)
	}

	fixed := 0
	for _, d := range drift {
		if _, err := e.Reconcile(ctx, d.ItemID); err != nil {
			if errors.Is(err, model.ErrDanglingReference) {
				continue
			}
			return fixed, fmt.Errorf("reconciling item %s: %w", d.ItemID, err)
		}
		fixed++
	}
	return fixed, nil
}

// RunReconciler calls ReconcileAll every interval until ctx is done.
func (e *Engine) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.ReconcileAll(ctx)
			if err != nil {
				slog.Error("reconciling items", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("reconciled items", "count", n)
			}
		}
	}
}
