package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Claim is a user's assertion of ownership over an item.
type Claim struct {
	ID           string    `json:"id"`
	ItemID       string    `json:"item_id"`
	ClaimerID    string    `json:"claimer_id"`
	Message      string    `json:"message"`
	Status       string    `json:"status"`
	DecisionNote string    `json:"decision_note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Claim statuses. Approved and rejected are terminal.
const (
	ClaimStatusPending  = "pending"
	ClaimStatusApproved = "approved"
	ClaimStatusRejected = "rejected"
)

// MaxClaimMessage is the maximum claim message length in characters.
const MaxClaimMessage = 500

// VoidedNote is the decision note stored on pending claims rejected because
// another claim on the same item was approved.
const VoidedNote = "another claim on this item was approved"

// ItemRemovedNote is the decision note stored on pending claims rejected
// because the owner removed the item.
const ItemRemovedNote = "the item was removed by its owner"

// Terminal reports whether the claim can no longer change status.
func (c *Claim) Terminal() bool {
	return c.Status == ClaimStatusApproved || c.Status == ClaimStatusRejected
}

// ValidDecision reports whether status is a legal target for a pending claim.
func ValidDecision(status string) bool {
	return status == ClaimStatusApproved || status == ClaimStatusRejected
}

// NormalizeClaimMessage trims the message and checks its length.
func NormalizeClaimMessage(message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", &ValidationError{Field: "message", Message: "message is required"}
	}
	if utf8.RuneCountInString(message) > MaxClaimMessage {
		return "", &ValidationError{Field: "message", Message: "message must be at most 500 characters"}
	}
	return message, nil
}

// Claimer is the identity of the user behind a claim.
type Claimer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// OwnerClaim is a claim joined with its item and claimer, as shown to the
// item's owner.
type OwnerClaim struct {
	Claim   Claim   `json:"claim"`
	Item    Item    `json:"item"`
	Claimer Claimer `json:"claimer"`
}

// ClaimEvent records one status change of a claim.
type ClaimEvent struct {
	ID         string    `json:"id"`
	ClaimID    string    `json:"claim_id"`
	ItemID     string    `json:"item_id"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	ActorID    string    `json:"actor_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// Joined fields (not always populated).
	ActorName string `json:"actor_name,omitempty"`
}

// DeriveItemStatus returns the status an item of the given kind must have
// given the statuses of its claims.
func DeriveItemStatus(kind string, claimStatuses []string) string {
	pending := false
	for _, s := range claimStatuses {
		switch s {
		case ClaimStatusApproved:
			return ItemStatusClaimed
		case ClaimStatusPending:
			pending = true
		}
	}
	if pending {
		return ItemStatusPendingClaim
	}
	return kind
}
