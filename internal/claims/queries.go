package claims

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/erazemk/lostfound/internal/model"
	"github.com/erazemk/lostfound/internal/store"
)

// ReportItem creates an item owned by ownerID.
func (e *Engine) ReportItem(ctx context.Context, ownerID string, n model.NewItem) (*model.Item, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	item, err := store.CreateItem(ctx, e.DB, ownerID, n)
	if err != nil {
		return nil, err
	}

	slog.Info("item reported", "item", item.ID, "kind", item.Kind, "owner", ownerID)
	e.publish(model.ChangeEvent{Table: model.TableItems, Op: model.OpInsert, ID: item.ID, ItemID: item.ID})
	return item, nil
}

// GetItem returns a non-deleted item or model.ErrDanglingReference.
func (e *Engine) GetItem(ctx context.Context, itemID string) (*model.Item, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	item, err := store.GetItem(ctx, e.DB, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil || item.DeletedAt != nil {
		return nil, model.ErrDanglingReference
	}
	return item, nil
}

// ownedItem loads an item and checks that ownerID reported it.
func (e *Engine) ownedItem(ctx context.Context, itemID, ownerID string) (*model.Item, error) {
	item, err := store.GetItem(ctx, e.DB, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.ErrDanglingReference
	}
	if item.OwnerID != ownerID {
		return nil, model.ErrUnauthorized
	}
	if item.DeletedAt != nil {
		return nil, model.ErrDanglingReference
	}
	return item, nil
}

// DeleteItem soft-deletes an item reported by ownerID and rejects its
// pending claims. Later claim submissions on it fail with
// model.ErrDanglingReference.
func (e *Engine) DeleteItem(ctx context.Context, itemID, ownerID string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var rejected []model.Claim
	err := store.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		it, err := store.GetItem(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if it == nil {
			return model.ErrDanglingReference
		}
		if it.OwnerID != ownerID {
			return model.ErrUnauthorized
		}
		if it.DeletedAt != nil {
			return model.ErrDanglingReference
		}

		rejected, err = store.ListPendingClaims(ctx, tx, itemID)
		if err != nil {
			return err
		}
		if err := rejectAll(ctx, tx, itemID, rejected, ownerID, model.ItemRemovedNote); err != nil {
			return err
		}
		return store.DeleteItem(ctx, tx, itemID)
	})
	if err != nil {
		return err
	}

	slog.Info("item deleted", "item", itemID, "owner", ownerID, "rejected_claims", len(rejected))
	events := make([]model.ChangeEvent, 0, len(rejected)+1)
	for _, c := range rejected {
		events = append(events, model.ChangeEvent{Table: model.TableClaims, Op: model.OpUpdate, ID: c.ID, ItemID: itemID})
	}
	events = append(events, model.ChangeEvent{Table: model.TableItems, Op: model.OpDelete, ID: itemID, ItemID: itemID})
	e.publish(events...)
	return nil
}

// SetItemImage stores a processed photo for an item reported by ownerID.
func (e *Engine) SetItemImage(ctx context.Context, itemID, ownerID string, data []byte, mime string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if _, err := e.ownedItem(ctx, itemID, ownerID); err != nil {
		return err
	}
	if err := store.SetItemImage(ctx, e.DB, itemID, data, mime); err != nil {
		return err
	}

	e.publish(model.ChangeEvent{Table: model.TableItems, Op: model.OpUpdate, ID: itemID, ItemID: itemID})
	return nil
}

// ListBrowsableItems returns the non-deleted items matching the filter,
// sorted by creation time.
func (e *Engine) ListBrowsableItems(ctx context.Context, f model.ItemFilter) ([]model.Item, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	return store.ListItems(ctx, e.DB, f)
}

// ListOwnerItems returns the non-deleted items reported by ownerID, newest first.
func (e *Engine) ListOwnerItems(ctx context.Context, ownerID string) ([]model.Item, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	return store.ListOwnerItems(ctx, e.DB, ownerID)
}

// ListOwnerClaims returns the claims on ownerID's items, newest first.
// Items whose stored status lags behind their claims are repaired before
// the list is returned.
func (e *Engine) ListOwnerClaims(ctx context.Context, ownerID string) ([]model.OwnerClaim, error) {
	listCtx, cancel := e.withTimeout(ctx)
	claims, err := store.ListClaimsForOwner(listCtx, e.DB, ownerID)
	cancel()
	if err != nil {
		return nil, err
	}

	stale := staleItems(claims)
	if len(stale) == 0 {
		return claims, nil
	}

	for _, id := range stale {
		if _, err := e.Reconcile(ctx, id); err != nil {
			slog.Error("reconciling item", "item", id, "error", err)
			return claims, nil
		}
	}

	listCtx, cancel = e.withTimeout(ctx)
	defer cancel()
	return store.ListClaimsForOwner(listCtx, e.DB, ownerID)
}

// staleItems returns the IDs of items in the list whose status differs from
// the status derived from the listed claims.
func staleItems(claims []model.OwnerClaim) []string {
	statuses := make(map[string][]string)
	items := make(map[string]model.Item)
	var order []string
	for _, oc := range claims {
		if _, ok := items[oc.Item.ID]; !ok {
			items[oc.Item.ID] = oc.Item
			order = append(order, oc.Item.ID)
		}
		statuses[oc.Item.ID] = append(statuses[oc.Item.ID], oc.Claim.Status)
	}

	var stale []string
	for _, id := range order {
		item := items[id]
		if model.DeriveItemStatus(item.Kind, statuses[id]) != item.Status {
			stale = append(stale, id)
		}
	}
	return stale
}

// ListClaimerClaims returns the claims submitted by claimerID, newest first.
func (e *Engine) ListClaimerClaims(ctx context.Context, claimerID string) ([]model.Claim, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	return store.ListClaimsByClaimer(ctx, e.DB, claimerID)
}

// ItemHistory returns the claim events of an item for its owner, newest first.
func (e *Engine) ItemHistory(ctx context.Context, itemID, ownerID string) ([]model.ClaimEvent, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	if _, err := e.ownedItem(ctx, itemID, ownerID); err != nil {
		return nil, err
	}
	return store.ListItemHistory(ctx, e.DB, itemID)
}

// ItemImage returns the photo of a non-deleted item, or nil data if it has none.
func (e *Engine) ItemImage(ctx context.Context, itemID string) ([]byte, string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	return store.GetItemImage(ctx, e.DB, itemID)
}
