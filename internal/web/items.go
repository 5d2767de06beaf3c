package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/erazemk/lostfound/internal/api"
	"github.com/erazemk/lostfound/internal/imaging"
	"github.com/erazemk/lostfound/internal/model"
)

type browsePage struct {
	PageData
	Items  []api.ItemView
	Filter model.ItemFilter
}

// BrowsePage handles GET /: browsable items with the report and claim forms.
func (s *Server) BrowsePage(w http.ResponseWriter, r *http.Request) {
	s.renderBrowse(w, r, http.StatusOK, popFlash(w, r), "")
}

func (s *Server) renderBrowse(w http.ResponseWriter, r *http.Request, status int, success, errMsg string) {
	caller := GetWebClaims(r.Context())
	f := api.ItemFilterFromQuery(r)
	if f.Sort != model.SortOldest {
		f.Sort = model.SortNewest
	}

	items, err := s.Engine.ListBrowsableItems(r.Context(), f)
	if err != nil {
		slog.Error("listing items", "error", err)
		if errMsg == "" {
			_, errMsg = api.ErrorStatus(err)
		}
	}

	now := time.Now()
	views := make([]api.ItemView, 0, len(items))
	for _, item := range items {
		views = append(views, api.NewItemView(item, caller.UserID(), now))
	}

	s.Templates.RenderStatus(w, status, "items.html", &browsePage{
		PageData: PageData{Title: "Lost & found", User: caller, Success: success, Error: errMsg, Live: true},
		Items:    views,
		Filter:   f,
	})
}

// ReportSubmit handles POST /items.
func (s *Server) ReportSubmit(w http.ResponseWriter, r *http.Request) {
	caller := GetWebClaims(r.Context())

	item, err := s.Engine.ReportItem(r.Context(), caller.UserID(), model.NewItem{
		Kind:         r.FormValue("kind"),
		Title:        r.FormValue("title"),
		Description:  r.FormValue("description"),
		Category:     r.FormValue("category"),
		Location:     r.FormValue("location"),
		ContactEmail: r.FormValue("contact_email"),
	})
	if err != nil {
		status, message := api.ErrorStatus(err)
		s.renderBrowse(w, r, status, "", message)
		return
	}

	setFlash(w, "Reported \""+item.Title+"\".")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ClaimSubmit handles POST /items/{id}/claim.
func (s *Server) ClaimSubmit(w http.ResponseWriter, r *http.Request) {
	caller := GetWebClaims(r.Context())

	if _, err := s.Engine.Submit(r.Context(), r.PathValue("id"), caller.UserID(), r.FormValue("message")); err != nil {
		status, message := api.ErrorStatus(err)
		s.renderBrowse(w, r, status, "", message)
		return
	}

	setFlash(w, "Claim submitted. The owner will review it.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ItemDeleteSubmit handles POST /items/{id}/delete.
func (s *Server) ItemDeleteSubmit(w http.ResponseWriter, r *http.Request) {
	caller := GetWebClaims(r.Context())

	if err := s.Engine.DeleteItem(r.Context(), r.PathValue("id"), caller.UserID()); err != nil {
		status, message := api.ErrorStatus(err)
		s.renderBrowse(w, r, status, "", message)
		return
	}

	setFlash(w, "Item removed.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ItemImageSubmit handles POST /items/{id}/image.
func (s *Server) ItemImageSubmit(w http.ResponseWriter, r *http.Request) {
	caller := GetWebClaims(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+(64<<10))
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		s.renderBrowse(w, r, http.StatusBadRequest, "", "File too large.")
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		s.renderBrowse(w, r, http.StatusBadRequest, "", "Choose an image to upload.")
		return
	}
	defer file.Close()

	photo, err := imaging.Process(file)
	if err == nil {
		err = s.Engine.SetItemImage(r.Context(), r.PathValue("id"), caller.UserID(), photo.Data, photo.MIME)
	}
	if err != nil {
		status, message := api.ErrorStatus(err)
		s.renderBrowse(w, r, status, "", message)
		return
	}

	slog.Info("item image uploaded", "user", caller.Username, "item", r.PathValue("id"))
	setFlash(w, "Photo uploaded.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ItemImageGet handles GET /items/{id}/image.
func (s *Server) ItemImageGet(w http.ResponseWriter, r *http.Request) {
	api.ServeItemImage(s.Engine, w, r)
}
