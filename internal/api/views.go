package api

import (
	"time"

	"github.com/erazemk/lostfound/internal/model"
)

// ItemView is an item as returned to a particular viewer, with the fields
// derived at read time.
type ItemView struct {
	model.Item
	Contact           string `json:"contact"`
	TimeAgo           string `json:"time_ago"`
	AvailableForClaim bool   `json:"available_for_claim"`
	ImageURL          string `json:"image_url,omitempty"`
}

// NewItemView derives the viewer-specific fields of item.
func NewItemView(item model.Item, viewerID string, now time.Time) ItemView {
	return ItemView{
		Item:              item,
		Contact:           item.Contact(),
		TimeAgo:           item.TimeAgo(now),
		AvailableForClaim: item.AvailableForClaim(viewerID),
		ImageURL:          item.ImageURL(),
	}
}

// OwnerClaimView is a claim on one of the caller's items.
type OwnerClaimView struct {
	Claim      model.Claim   `json:"claim"`
	Item       ItemView      `json:"item"`
	Claimer    model.Claimer `json:"claimer"`
	Actionable bool          `json:"actionable"`
}

// NewOwnerClaimViews converts the owner's claim list for viewerID.
func NewOwnerClaimViews(list []model.OwnerClaim, viewerID string, now time.Time) []OwnerClaimView {
	views := make([]OwnerClaimView, 0, len(list))
	for _, oc := range list {
		views = append(views, OwnerClaimView{
			Claim:      oc.Claim,
			Item:       NewItemView(oc.Item, viewerID, now),
			Claimer:    oc.Claimer,
			Actionable: oc.Claim.Status == model.ClaimStatusPending,
		})
	}
	return views
}
