package web

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/lostfound/internal/api"
	"github.com/erazemk/lostfound/internal/claims"
	"github.com/erazemk/lostfound/internal/notify"
	webembed "github.com/erazemk/lostfound/web"
)

// NewRouter creates the web page router with all page routes registered.
func NewRouter(db *sql.DB, engine *claims.Engine, hub *notify.Hub, jwtSecret string) (http.Handler, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, err
	}

	s := &Server{
		DB:        db,
		Engine:    engine,
		Templates: templates,
		JWTSecret: jwtSecret,
	}

	mux := http.NewServeMux()
	cookieAuth := CookieAuthMiddleware(jwtSecret, db)

	// Static assets.
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(webembed.StaticFS()))))

	// Public routes.
	mux.HandleFunc("GET /login", s.LoginPage)
	mux.HandleFunc("POST /login", s.LoginSubmit)
	mux.HandleFunc("POST /register", s.RegisterSubmit)
	mux.HandleFunc("POST /logout", s.Logout)

	// Authenticated routes.
	mux.Handle("GET /{$}", cookieAuth(http.HandlerFunc(s.BrowsePage)))

	mux.Handle("POST /items", cookieAuth(http.HandlerFunc(s.ReportSubmit)))
	mux.Handle("POST /items/{id}/claim", cookieAuth(http.HandlerFunc(s.ClaimSubmit)))
	mux.Handle("POST /items/{id}/delete", cookieAuth(http.HandlerFunc(s.ItemDeleteSubmit)))
	mux.Handle("POST /items/{id}/image", cookieAuth(http.HandlerFunc(s.ItemImageSubmit)))
	mux.Handle("GET /items/{id}/image", cookieAuth(http.HandlerFunc(s.ItemImageGet)))

	mux.Handle("GET /claims", cookieAuth(http.HandlerFunc(s.ClaimsPage)))
	mux.Handle("POST /claims/{id}/decision", cookieAuth(http.HandlerFunc(s.DecideSubmit)))

	mux.Handle("GET /users", cookieAuth(http.HandlerFunc(s.UsersPage)))

	mux.Handle("GET /settings", cookieAuth(http.HandlerFunc(s.SettingsPage)))
	mux.Handle("POST /settings", cookieAuth(http.HandlerFunc(s.SettingsSubmit)))

	mux.Handle("GET /events", cookieAuth(api.EventStream(hub)))

	return mux, nil
}
