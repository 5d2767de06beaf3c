package web

import (
	"database/sql"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/erazemk/lostfound/internal/auth"
	"github.com/erazemk/lostfound/internal/claims"
	"github.com/erazemk/lostfound/internal/model"
	webembed "github.com/erazemk/lostfound/web"
)

// Templates holds parsed HTML templates.
type Templates struct {
	templates map[string]*template.Template
}

// FuncMap returns the template function map.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"roleAtLeast": model.RoleAtLeast,
		"itemStatuses": func() []string {
			return []string{model.ItemStatusFound, model.ItemStatusLost, model.ItemStatusPendingClaim, model.ItemStatusClaimed}
		},
		"statusName": func(status string) string {
			switch status {
			case model.ItemStatusFound:
				return "Found"
			case model.ItemStatusLost:
				return "Lost"
			case model.ItemStatusPendingClaim:
				return "Claim pending"
			case model.ItemStatusClaimed:
				return "Claimed"
			case model.ClaimStatusPending:
				return "Pending"
			case model.ClaimStatusApproved:
				return "Approved"
			case model.ClaimStatusRejected:
				return "Rejected"
			default:
				return status
			}
		},
		"badge": func(status string) string {
			switch status {
			case model.ClaimStatusApproved, model.ItemStatusClaimed:
				return "badge-ok"
			case model.ClaimStatusRejected:
				return "badge-bad"
			case model.ClaimStatusPending, model.ItemStatusPendingClaim:
				return "badge-wait"
			default:
				return "badge-open"
			}
		},
		"ago": func(t time.Time) string {
			return humanize.Time(t)
		},
		"date": func(t time.Time) string {
			return t.Local().Format("2006-01-02 15:04")
		},
	}
}

// LoadTemplates parses all page templates with the layout.
func LoadTemplates() (*Templates, error) {
	tfs := webembed.TemplatesFS()

	layoutBytes, err := fs.ReadFile(tfs, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("reading layout template: %w", err)
	}

	pages := []string{
		"login.html",
		"items.html",
		"claims.html",
		"users.html",
		"settings.html",
	}

	ts := &Templates{templates: make(map[string]*template.Template)}

	for _, page := range pages {
		pageBytes, err := fs.ReadFile(tfs, page)
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", page, err)
		}

		tmpl := template.New(page).Funcs(FuncMap())
		tmpl, err = tmpl.Parse(string(layoutBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing layout for %s: %w", page, err)
		}
		tmpl, err = tmpl.Parse(string(pageBytes))
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", page, err)
		}

		ts.templates[page] = tmpl
	}

	return ts, nil
}

// Render renders a template with the given data.
func (ts *Templates) Render(w http.ResponseWriter, name string, data any) {
	ts.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus renders a template with an explicit status code.
func (ts *Templates) RenderStatus(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := ts.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		slog.Error("rendering template", "template", name, "error", err)
	}
}

// PageData is the base data passed to all templates.
type PageData struct {
	Title   string
	User    *auth.Claims
	Error   string
	Success string
	// Live pages reload when the event stream reports a change.
	Live bool
}

// Server holds all dependencies for page handlers.
type Server struct {
	DB        *sql.DB
	Engine    *claims.Engine
	Templates *Templates
	JWTSecret string
}
