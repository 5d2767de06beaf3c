package web

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/erazemk/lostfound/internal/api"
	"github.com/erazemk/lostfound/internal/model"
)

// claimGroup is one of the caller's items with the claims made on it.
type claimGroup struct {
	Item   api.ItemView
	Claims []api.OwnerClaimView
}

type claimsPage struct {
	PageData
	Groups   []claimGroup
	MyClaims []model.Claim
}

// groupByItem groups claims by item, keeping the order in which items first
// appear in the list.
func groupByItem(list []api.OwnerClaimView) []claimGroup {
	var groups []claimGroup
	index := make(map[string]int)
	for _, c := range list {
		i, ok := index[c.Item.ID]
		if !ok {
			i = len(groups)
			index[c.Item.ID] = i
			groups = append(groups, claimGroup{Item: c.Item})
		}
		groups[i].Claims = append(groups[i].Claims, c)
	}
	return groups
}

// ClaimsPage handles GET /claims: claims on the caller's items, grouped by
// item, and the claims the caller submitted.
func (s *Server) ClaimsPage(w http.ResponseWriter, r *http.Request) {
	s.renderClaims(w, r, http.StatusOK, popFlash(w, r), "")
}

func (s *Server) renderClaims(w http.ResponseWriter, r *http.Request, status int, success, errMsg string) {
	caller := GetWebClaims(r.Context())

	list, err := s.Engine.ListOwnerClaims(r.Context(), caller.UserID())
	if err != nil {
		slog.Error("listing owner claims", "error", err)
		if errMsg == "" {
			_, errMsg = api.ErrorStatus(err)
		}
	}
	mine, err := s.Engine.ListClaimerClaims(r.Context(), caller.UserID())
	if err != nil {
		slog.Error("listing own claims", "error", err)
	}

	s.Templates.RenderStatus(w, status, "claims.html", &claimsPage{
		PageData: PageData{Title: "Claims", User: caller, Success: success, Error: errMsg, Live: true},
		Groups:   groupByItem(api.NewOwnerClaimViews(list, caller.UserID(), time.Now())),
		MyClaims: mine,
	})
}

// DecideSubmit handles POST /claims/{id}/decision. On success the list is
// reloaded with a banner; on failure it is re-read and shown with the error.
func (s *Server) DecideSubmit(w http.ResponseWriter, r *http.Request) {
	caller := GetWebClaims(r.Context())
	decision := r.FormValue("decision")

	_, err := s.Engine.Decide(r.Context(), r.PathValue("id"), caller.UserID(), decision, strings.TrimSpace(r.FormValue("note")))
	if err != nil {
		status, message := api.ErrorStatus(err)
		s.renderClaims(w, r, status, "", message)
		return
	}

	if decision == model.ClaimStatusApproved {
		setFlash(w, "Claim approved.")
	} else {
		setFlash(w, "Claim rejected.")
	}
	http.Redirect(w, r, "/claims", http.StatusSeeOther)
}
