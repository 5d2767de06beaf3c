package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/lostfound/internal/model"
)

const claimColumns = `c.id, c.item_id, c.claimer_id, c.message, c.status, c.decision_note, c.created_at, c.updated_at`

func scanClaim(row rowScanner, c *model.Claim) error {
	var note sql.NullString
	if err := row.Scan(&c.ID, &c.ItemID, &c.ClaimerID, &c.Message, &c.Status, &note, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return err
	}
	c.DecisionNote = note.String
	return nil
}

// CreateClaim inserts a pending claim. The message is trimmed and must hold
// 1 to model.MaxClaimMessage characters. A second claim by the same claimer
// on the same item is rejected by the UNIQUE (item_id, claimer_id) constraint
// and returned as a *model.DuplicateClaimError carrying the prior claim.
func CreateClaim(ctx context.Context, db DBTX, itemID, claimerID, message string) (*model.Claim, error) {
	message, err := model.NormalizeClaimMessage(message)
	if err != nil {
		return nil, err
	}

	id := newID()
	ts := now()
	_, err = db.ExecContext(ctx,
		`INSERT INTO claims (id, item_id, claimer_id, message, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, itemID, claimerID, message, model.ClaimStatusPending, ts, ts,
	)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			existing, ferr := FindExistingClaim(ctx, db, itemID, claimerID)
			if ferr != nil {
				return nil, ferr
			}
			return nil, &model.DuplicateClaimError{Existing: existing}
		case isForeignKeyViolation(err):
			return nil, fmt.Errorf("creating claim: %w", model.ErrDanglingReference)
		}
		return nil, fmt.Errorf("creating claim: %w", translate(err))
	}

	return GetClaim(ctx, db, id)
}

// GetClaim returns a claim by ID, or nil if it does not exist.
func GetClaim(ctx context.Context, db DBTX, id string) (*model.Claim, error) {
	c := &model.Claim{}
	err := scanClaim(db.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims c WHERE c.id = ?`, id), c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting claim: %w", translate(err))
	}
	return c, nil
}

// FindExistingClaim returns the claimer's claim on the item in any status,
// or nil if there is none.
func FindExistingClaim(ctx context.Context, db DBTX, itemID, claimerID string) (*model.Claim, error) {
	c := &model.Claim{}
	err := scanClaim(db.QueryRowContext(ctx,
		`SELECT `+claimColumns+` FROM claims c WHERE c.item_id = ? AND c.claimer_id = ?`,
		itemID, claimerID), c)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding existing claim: %w", translate(err))
	}
	return c, nil
}

// ListClaimsForOwner returns every claim on items reported by ownerID,
// joined with the item and claimer, newest first.
func ListClaimsForOwner(ctx context.Context, db DBTX, ownerID string) ([]model.OwnerClaim, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+claimColumns+`, `+itemColumns+`,
		        cu.id, COALESCE(NULLIF(cu.name, ''), cu.username), cu.email
		 FROM claims c
		 JOIN items i ON i.id = c.item_id
		 JOIN users u ON u.id = i.owner_id
		 JOIN users cu ON cu.id = c.claimer_id
		 WHERE i.owner_id = ? AND i.deleted_at IS NULL
		 ORDER BY c.created_at DESC, c.rowid DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing owner claims: %w", translate(err))
	}
	defer rows.Close()

	var claims []model.OwnerClaim
	for rows.Next() {
		var oc model.OwnerClaim
		var note, email, imageMime sql.NullString
		c, it := &oc.Claim, &oc.Item
		if err := rows.Scan(&c.ID, &c.ItemID, &c.ClaimerID, &c.Message, &c.Status, &note, &c.CreatedAt, &c.UpdatedAt,
			&it.ID, &it.OwnerID, &it.Kind, &it.Title, &it.Description, &it.Category, &it.Location,
			&email, &imageMime, &it.Status, &it.CreatedAt, &it.UpdatedAt, &it.DeletedAt, &it.OwnerName,
			&oc.Claimer.ID, &oc.Claimer.Name, &oc.Claimer.Email); err != nil {
			return nil, fmt.Errorf("scanning owner claim: %w", err)
		}
		c.DecisionNote = note.String
		it.ContactEmail = email.String
		it.ImageMime = imageMime.String
		claims = append(claims, oc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing owner claims: %w", translate(err))
	}
	return claims, nil
}

// ListClaimsByClaimer returns the claims submitted by claimerID, newest first.
func ListClaimsByClaimer(ctx context.Context, db DBTX, claimerID string) ([]model.Claim, error) {
	return queryClaims(ctx, db,
		`SELECT `+claimColumns+` FROM claims c WHERE c.claimer_id = ?
		 ORDER BY c.created_at DESC, c.rowid DESC`, claimerID)
}

// ListClaimsForItem returns all claims on an item, oldest first.
func ListClaimsForItem(ctx context.Context, db DBTX, itemID string) ([]model.Claim, error) {
	return queryClaims(ctx, db,
		`SELECT `+claimColumns+` FROM claims c WHERE c.item_id = ?
		 ORDER BY c.created_at ASC, c.rowid ASC`, itemID)
}

func queryClaims(ctx context.Context, db DBTX, query string, args ...any) ([]model.Claim, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing claims: %w", translate(err))
	}
	defer rows.Close()

	var claims []model.Claim
	for rows.Next() {
		var c model.Claim
		if err := scanClaim(rows, &c); err != nil {
			return nil, fmt.Errorf("scanning claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing claims: %w", translate(err))
	}
	return claims, nil
}

// UpdateClaimStatus moves a pending claim to status. The write only applies
// if the claim is still pending; otherwise it returns model.ErrInvalidTransition.
func UpdateClaimStatus(ctx context.Context, db DBTX, id, status, note string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE claims SET status = ?, decision_note = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		status, nullable(note), now(), id, model.ClaimStatusPending,
	)
	if err != nil {
		return fmt.Errorf("updating claim status: %w", translate(err))
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("updating claim status: %w", model.ErrInvalidTransition)
	}
	return nil
}

// ListPendingSiblings returns the pending claims on itemID other than claimID.
func ListPendingSiblings(ctx context.Context, db DBTX, itemID, claimID string) ([]model.Claim, error) {
	return queryClaims(ctx, db,
		`SELECT `+claimColumns+` FROM claims c
		 WHERE c.item_id = ? AND c.id <> ? AND c.status = ?
		 ORDER BY c.created_at ASC, c.rowid ASC`,
		itemID, claimID, model.ClaimStatusPending)
}

// ListPendingClaims returns the pending claims on itemID, oldest first.
func ListPendingClaims(ctx context.Context, db DBTX, itemID string) ([]model.Claim, error) {
	return queryClaims(ctx, db,
		`SELECT `+claimColumns+` FROM claims c
		 WHERE c.item_id = ? AND c.status = ?
		 ORDER BY c.created_at ASC, c.rowid ASC`,
		itemID, model.ClaimStatusPending)
}

// ItemClaimStatuses returns the statuses of every claim on an item.
func ItemClaimStatuses(ctx context.Context, db DBTX, itemID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT status FROM claims WHERE item_id = ?`, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing claim statuses: %w", translate(err))
	}
	defer rows.Close()

	var statuses []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning claim status: %w", err)
		}
		statuses = append(statuses, s)
	}
	return statuses, rows.Err()
}
