package model

// Tables that emit change events.
const (
	TableItems  = "items"
	TableClaims = "claims"
)

// Change operations.
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// ChangeEvent signals that a row in items or claims changed. Subscribers
// re-fetch; the event carries no row data.
type ChangeEvent struct {
	Table  string `json:"table"`
	Op     string `json:"op"`
	ID     string `json:"id"`
	ItemID string `json:"item_id,omitempty"`

	// Origin identifies the server instance that published the event.
	Origin string `json:"origin,omitempty"`
}
