package api

import (
	"net/http"
	"time"

	"github.com/erazemk/lostfound/internal/claims"
	"github.com/erazemk/lostfound/internal/model"
)

// ClaimsHandler handles claim submission and review endpoints.
type ClaimsHandler struct {
	Engine *claims.Engine
}

type submitClaimRequest struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

type decideClaimRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

// Submit handles POST /api/claims.
func (h *ClaimsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ItemID == "" {
		jsonError(w, http.StatusBadRequest, "item_id required")
		return
	}

	claim, err := h.Engine.Submit(r.Context(), req.ItemID, Caller(r.Context()).UserID(), req.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusCreated, claim)
}

// ListOwner handles GET /api/claims: claims on the caller's items.
func (h *ClaimsHandler) ListOwner(w http.ResponseWriter, r *http.Request) {
	caller := Caller(r.Context())
	list, err := h.Engine.ListOwnerClaims(r.Context(), caller.UserID())
	if err != nil {
		writeError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusOK, NewOwnerClaimViews(list, caller.UserID(), time.Now()))
}

// ListMine handles GET /api/claims/mine: claims the caller submitted.
func (h *ClaimsHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.Engine.ListClaimerClaims(r.Context(), Caller(r.Context()).UserID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Claim{}
	}
	jsonResponse(w, http.StatusOK, list)
}

// Decide handles POST /api/claims/{id}/decision.
func (h *ClaimsHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req decideClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claim, err := h.Engine.Decide(r.Context(), r.PathValue("id"), Caller(r.Context()).UserID(), req.Decision, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, claim)
}
