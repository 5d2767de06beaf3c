package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/lostfound/internal/model"
)

const itemColumns = `i.id, i.owner_id, i.kind, i.title, i.description, i.category, i.location,
	i.email, i.image_mime, i.status, i.created_at, i.updated_at, i.deleted_at,
	COALESCE(NULLIF(u.name, ''), u.username)`

const itemFrom = ` FROM items i JOIN users u ON u.id = i.owner_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner, item *model.Item) error {
	var email, imageMime sql.NullString
	if err := row.Scan(&item.ID, &item.OwnerID, &item.Kind, &item.Title, &item.Description,
		&item.Category, &item.Location, &email, &imageMime, &item.Status,
		&item.CreatedAt, &item.UpdatedAt, &item.DeletedAt, &item.OwnerName); err != nil {
		return err
	}
	item.ContactEmail = email.String
	item.ImageMime = imageMime.String
	return nil
}

// CreateItem reports a new item owned by ownerID. Blank fields are normalized
// to their defaults and the item starts in the status given by its kind.
func CreateItem(ctx context.Context, db DBTX, ownerID string, n model.NewItem) (*model.Item, error) {
	n.Normalize()
	if !model.ValidItemKind(n.Kind) {
		return nil, &model.ValidationError{Field: "kind", Message: "kind must be found or lost"}
	}

	id := newID()
	ts := now()
	_, err := db.ExecContext(ctx,
		`INSERT INTO items (id, owner_id, kind, title, description, category, location, email, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ownerID, n.Kind, n.Title, n.Description, n.Category, n.Location, nullable(n.ContactEmail), n.Kind, ts, ts,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("creating item: unknown owner: %w", model.ErrUnauthorized)
		}
		return nil, fmt.Errorf("creating item: %w", translate(err))
	}

	return GetItem(ctx, db, id)
}

// GetItem returns an item by ID, including soft-deleted items. It returns
// nil if no such item exists.
func GetItem(ctx context.Context, db DBTX, id string) (*model.Item, error) {
	item := &model.Item{}
	err := scanItem(db.QueryRowContext(ctx, `SELECT `+itemColumns+itemFrom+` WHERE i.id = ?`, id), item)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item: %w", translate(err))
	}
	return item, nil
}

// ListItems returns non-deleted items sorted by creation time, newest first
// unless the filter asks for oldest first.
func ListItems(ctx context.Context, db DBTX, f model.ItemFilter) ([]model.Item, error) {
	query := `SELECT ` + itemColumns + itemFrom + ` WHERE i.deleted_at IS NULL`
	var args []any

	if f.Status != "" {
		query += ` AND i.status = ?`
		args = append(args, f.Status)
	}
	if f.Category != "" {
		query += ` AND i.category = ?`
		args = append(args, f.Category)
	}
	if f.Location != "" {
		query += ` AND i.location = ?`
		args = append(args, f.Location)
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		query += ` AND (instr(lower(i.title), lower(?)) > 0 OR instr(lower(i.description), lower(?)) > 0)`
		args = append(args, q, q)
	}

	if f.Sort == model.SortOldest {
		query += ` ORDER BY i.created_at ASC, i.rowid ASC`
	} else {
		query += ` ORDER BY i.created_at DESC, i.rowid DESC`
	}

	return queryItems(ctx, db, query, args...)
}

// ListOwnerItems returns the non-deleted items reported by ownerID, newest first.
func ListOwnerItems(ctx context.Context, db DBTX, ownerID string) ([]model.Item, error) {
	return queryItems(ctx, db,
		`SELECT `+itemColumns+itemFrom+`
		 WHERE i.owner_id = ? AND i.deleted_at IS NULL
		 ORDER BY i.created_at DESC, i.rowid DESC`, ownerID)
}

func queryItems(ctx context.Context, db DBTX, query string, args ...any) ([]model.Item, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", translate(err))
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var item model.Item
		if err := scanItem(rows, &item); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing items: %w", translate(err))
	}
	return items, nil
}

// SetItemStatus writes an item's status. It does not check the status
// against the item's claims; the lifecycle engine derives it first.
func SetItemStatus(ctx context.Context, db DBTX, id, status string) (*model.Item, error) {
	if !model.ValidItemStatus(status) {
		return nil, fmt.Errorf("setting item status: invalid status %q", status)
	}

	result, err := db.ExecContext(ctx,
		`UPDATE items SET status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		status, now(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("setting item status: %w", translate(err))
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("setting item status: %w", model.ErrDanglingReference)
	}

	return GetItem(ctx, db, id)
}

// DeleteItem soft-deletes an item.
func DeleteItem(ctx context.Context, db DBTX, id string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE items SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now(), now(), id,
	)
	if err != nil {
		return fmt.Errorf("deleting item: %w", translate(err))
	}
	return nil
}

// SetItemImage sets an item's image data.
func SetItemImage(ctx context.Context, db DBTX, id string, image []byte, mime string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE items SET image = ?, image_mime = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		image, mime, now(), id,
	)
	if err != nil {
		return fmt.Errorf("setting item image: %w", translate(err))
	}
	return nil
}

// GetItemImage returns an item's image data and MIME type.
func GetItemImage(ctx context.Context, db DBTX, id string) ([]byte, string, error) {
	var image []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT image, image_mime FROM items WHERE id = ? AND deleted_at IS NULL`, id,
	).Scan(&image, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting item image: %w", translate(err))
	}
	return image, mime.String, nil
}

// ItemStatusDrift is an item whose stored status differs from the status
// derived from its claims.
type ItemStatusDrift struct {
	ItemID  string
	Stored  string
	Derived string
}

// ListStatusDrift finds non-deleted items whose stored status disagrees with
// their claims.
func ListStatusDrift(ctx context.Context, db DBTX) ([]ItemStatusDrift, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, status, derived FROM (
		     SELECT i.id, i.status,
		            CASE
		                WHEN EXISTS (SELECT 1 FROM claims c WHERE c.item_id = i.id AND c.status = 'approved') THEN 'claimed'
		                WHEN EXISTS (SELECT 1 FROM claims c WHERE c.item_id = i.id AND c.status = 'pending') THEN 'pending_claim'
		                ELSE i.kind
		            END AS derived
		     FROM items i
		     WHERE i.deleted_at IS NULL
		 ) WHERE status <> derived`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing status drift: %w", translate(err))
	}
	defer rows.Close()

	var drift []ItemStatusDrift
	for rows.Next() {
		var d ItemStatusDrift
		if err := rows.Scan(&d.ItemID, &d.Stored, &d.Derived); err != nil {
			return nil, fmt.Errorf("scanning status drift: %w", err)
		}
		drift = append(drift, d)
	}
	return drift, rows.Err()
}
