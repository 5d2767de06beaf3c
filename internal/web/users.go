package web

import (
	"log/slog"
	"net/http"

	"github.com/erazemk/lostfound/internal/auth"
	"github.com/erazemk/lostfound/internal/model"
	"github.com/erazemk/lostfound/internal/store"
)

// UsersPage handles GET /users (admin only).
func (s *Server) UsersPage(w http.ResponseWriter, r *http.Request) {
	caller := GetWebClaims(r.Context())
	if !model.RoleAtLeast(caller.Role, model.RoleAdmin) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	users, err := store.ListUsers(r.Context(), s.DB)
	if err != nil {
		slog.Error("listing users", "error", err)
	}

	s.Templates.Render(w, "users.html", &struct {
		PageData
		Users []model.User
	}{
		PageData: PageData{Title: "Users", User: caller},
		Users:    users,
	})
}

// SettingsPage handles GET /settings.
func (s *Server) SettingsPage(w http.ResponseWriter, r *http.Request) {
	s.Templates.Render(w, "settings.html", &PageData{
		Title:   "Settings",
		User:    GetWebClaims(r.Context()),
		Success: popFlash(w, r),
	})
}

// SettingsSubmit handles POST /settings (change own password).
func (s *Server) SettingsSubmit(w http.ResponseWriter, r *http.Request) {
	caller := GetWebClaims(r.Context())

	fail := func(status int, message string) {
		s.Templates.RenderStatus(w, status, "settings.html", &PageData{
			Title: "Settings",
			User:  caller,
			Error: message,
		})
	}

	currentPassword := r.FormValue("current_password")
	newPassword := r.FormValue("new_password")

	if currentPassword == "" || newPassword == "" {
		fail(http.StatusBadRequest, "Enter your current and new password.")
		return
	}
	if err := model.ValidatePassword(newPassword); err != nil {
		fail(http.StatusBadRequest, err.Error())
		return
	}

	user, err := store.GetUser(r.Context(), s.DB, caller.UserID())
	if err != nil || user == nil {
		slog.Error("getting user", "user", caller.Username, "error", err)
		fail(http.StatusInternalServerError, "Could not load your account.")
		return
	}

	if !auth.CheckPassword(user.PasswordHash, currentPassword) {
		fail(http.StatusUnauthorized, "Current password is incorrect.")
		return
	}

	hash, err := auth.HashPassword(newPassword)
	if err == nil {
		err = store.UpdateUserPassword(r.Context(), s.DB, user.ID, hash)
	}
	if err != nil {
		slog.Error("updating password", "user", caller.Username, "error", err)
		fail(http.StatusInternalServerError, "Could not update password.")
		return
	}

	slog.Info("user changed own password", "user", caller.Username)
	setFlash(w, "Password changed.")
	http.Redirect(w, r, "/settings", http.StatusSeeOther)
}
