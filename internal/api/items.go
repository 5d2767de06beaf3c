package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/lostfound/internal/claims"
	"github.com/erazemk/lostfound/internal/imaging"
	"github.com/erazemk/lostfound/internal/model"
)

// ItemsHandler handles item endpoints.
type ItemsHandler struct {
	Engine *claims.Engine
}

// ItemFilterFromQuery reads browse filters from the query string.
func ItemFilterFromQuery(r *http.Request) model.ItemFilter {
	q := r.URL.Query()
	return model.ItemFilter{
		Sort:     q.Get("sort"),
		Status:   q.Get("status"),
		Category: q.Get("category"),
		Location: q.Get("location"),
		Query:    q.Get("q"),
	}
}

// List handles GET /api/items.
func (h *ItemsHandler) List(w http.ResponseWriter, r *http.Request) {
	f := ItemFilterFromQuery(r)
	if f.Sort != "" && f.Sort != model.SortNewest && f.Sort != model.SortOldest {
		jsonError(w, http.StatusBadRequest, "sort must be asc or desc")
		return
	}
	if f.Status != "" && !model.ValidItemStatus(f.Status) {
		jsonError(w, http.StatusBadRequest, "invalid status")
		return
	}

	items, err := h.Engine.ListBrowsableItems(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	viewer := Caller(r.Context()).UserID()
	now := time.Now()
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, NewItemView(item, viewer, now))
	}
	jsonResponse(w, http.StatusOK, views)
}

// Mine handles GET /api/items/mine: items the caller reported.
func (h *ItemsHandler) Mine(w http.ResponseWriter, r *http.Request) {
	viewer := Caller(r.Context()).UserID()
	items, err := h.Engine.ListOwnerItems(r.Context(), viewer)
	if err != nil {
		writeError(w, r, err)
		return
	}

	now := time.Now()
	views := make([]ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, NewItemView(item, viewer, now))
	}
	jsonResponse(w, http.StatusOK, views)
}

// Create handles POST /api/items.
func (h *ItemsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.NewItem
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller := Caller(r.Context())
	item, err := h.Engine.ReportItem(r.Context(), caller.UserID(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusCreated, NewItemView(*item, caller.UserID(), time.Now()))
}

// Get handles GET /api/items/{id}.
func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	item, err := h.Engine.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, NewItemView(*item, Caller(r.Context()).UserID(), time.Now()))
}

// Delete handles DELETE /api/items/{id}.
func (h *ItemsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteItem(r.Context(), r.PathValue("id"), Caller(r.Context()).UserID()); err != nil {
		writeError(w, r, err)
		return
	}
	jsonResponse(w, http.StatusOK, map[string]string{"message": "item deleted"})
}

// UploadImage handles PUT /api/items/{id}/image. The body is a multipart
// form with an "image" file field.
func (h *ItemsHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+(64<<10))

	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.Engine.SetItemImage(r.Context(), r.PathValue("id"), Caller(r.Context()).UserID(), photo.Data, photo.MIME); err != nil {
		writeError(w, r, err)
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "image uploaded"})
}

// GetImage handles GET /api/items/{id}/image.
func (h *ItemsHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	ServeItemImage(h.Engine, w, r)
}

// ServeItemImage writes the photo of the item named by the {id} path value.
func ServeItemImage(engine *claims.Engine, w http.ResponseWriter, r *http.Request) {
	data, mime, err := engine.ItemImage(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no image")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// History handles GET /api/items/{id}/history.
func (h *ItemsHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.Engine.ItemHistory(r.Context(), r.PathValue("id"), Caller(r.Context()).UserID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if history == nil {
		history = []model.ClaimEvent{}
	}
	jsonResponse(w, http.StatusOK, history)
}
