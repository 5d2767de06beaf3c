package model

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Item represents a reported lost or found object.
type Item struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Kind         string     `json:"kind"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Category     string     `json:"category"`
	Location     string     `json:"location"`
	ContactEmail string     `json:"contact_email,omitempty"`
	ImageMime    string     `json:"image_mime,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`

	// Joined fields (not always populated).
	OwnerName string `json:"owner_name,omitempty"`
}

// Item statuses. Found and lost double as the item kind an item reverts to
// when its last pending claim is rejected.
const (
	ItemStatusFound        = "found"
	ItemStatusLost         = "lost"
	ItemStatusPendingClaim = "pending_claim"
	ItemStatusClaimed      = "claimed"
)

// Defaults applied to blank item fields.
const (
	DefaultTitle       = "Untitled item"
	DefaultDescription = "No description"
	DefaultCategory    = "Misc"
	DefaultLocation    = "Other"
	UnknownContact     = "unknown"
)

// Sort orders for item listings.
const (
	SortNewest = "desc"
	SortOldest = "asc"
)

// ValidItemKind reports whether kind is a status an item can be reported with.
func ValidItemKind(kind string) bool {
	return kind == ItemStatusFound || kind == ItemStatusLost
}

// ValidItemStatus reports whether status is one of the four item statuses.
func ValidItemStatus(status string) bool {
	switch status {
	case ItemStatusFound, ItemStatusLost, ItemStatusPendingClaim, ItemStatusClaimed:
		return true
	}
	return false
}

// NewItem holds the fields a reporter supplies when creating an item.
type NewItem struct {
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Location     string `json:"location"`
	ContactEmail string `json:"contact_email"`
}

// Normalize trims every field and fills blank ones with their defaults.
// The contact email stays empty; Contact renders the sentinel.
func (n *NewItem) Normalize() {
	n.Kind = strings.ToLower(strings.TrimSpace(n.Kind))
	n.Title = orDefault(n.Title, DefaultTitle)
	n.Description = orDefault(n.Description, DefaultDescription)
	n.Category = orDefault(n.Category, DefaultCategory)
	n.Location = orDefault(n.Location, DefaultLocation)
	n.ContactEmail = strings.TrimSpace(n.ContactEmail)
}

func orDefault(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}

// Contact returns the contact email, or "unknown" when none was given.
func (i *Item) Contact() string {
	if i.ContactEmail == "" {
		return UnknownContact
	}
	return i.ContactEmail
}

// Available reports whether the item is in the Available state (found or lost).
func (i *Item) Available() bool {
	return i.Status == ItemStatusFound || i.Status == ItemStatusLost
}

// AvailableForClaim reports whether viewerID may submit a claim on the item.
func (i *Item) AvailableForClaim(viewerID string) bool {
	if i.DeletedAt != nil || i.OwnerID == viewerID {
		return false
	}
	return i.Available() || i.Status == ItemStatusPendingClaim
}

// TimeAgo renders the creation time relative to now, e.g. "3 days ago".
func (i *Item) TimeAgo(now time.Time) string {
	return humanize.RelTime(i.CreatedAt, now, "ago", "from now")
}

// ImageURL returns the API path of the item's photo, or "" if it has none.
func (i *Item) ImageURL() string {
	if i.ImageMime == "" {
		return ""
	}
	return "/api/items/" + i.ID + "/image"
}

// ItemFilter narrows a browse listing. Zero values mean "no filter".
type ItemFilter struct {
	Sort     string
	Status   string
	Category string
	Location string
	Query    string
}
