package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopfront/shopfront-api/internal/models"
)

// Register handles POST /api/auth/register
func (a *App) Register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := a.users.Register(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err, "Server error during registration")
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully. Please check your email to activate your account.",
		"user":    user,
	})
}

// Activate handles GET /api/auth/activate/{token}
func (a *App) Activate(w http.ResponseWriter, r *http.Request) {
	user, err := a.users.Activate(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		a.respondError(w, r, err, "Server error during activation")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Account activated successfully. You can now login.",
		"user":    user,
	})
}

// Login handles POST /api/auth/login
func (a *App) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := a.users.Login(r.Context(), req)
	if err != nil {
		a.respondError(w, r, err, "Server error during login")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ForgotPassword handles POST /api/auth/forgot-password. The response does
// not reveal whether the email is registered.
func (a *App) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := a.users.ForgotPassword(r.Context(), req.Email); err != nil {
		a.respondError(w, r, err, "Error sending email. Please try again.")
		return
	}
	respondMessage(w, http.StatusOK, "If the email exists, a password reset link has been sent.")
}

// ResetPassword handles POST /api/auth/reset-password/{token}
func (a *App) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := a.users.ResetPassword(r.Context(), mux.Vars(r)["token"], req); err != nil {
		a.respondError(w, r, err, "Server error during password reset")
		return
	}
	respondMessage(w, http.StatusOK, "Password has been reset successfully. You can now login.")
}

// GetProfile handles GET /api/auth/profile
func (a *App) GetProfile(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, currentUser(r))
}

// UpdateProfile handles PUT /api/auth/profile
func (a *App) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProfileRequest
	if !decodeJSON(r, &req) {
		respondMessage(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := a.users.UpdateProfile(r.Context(), currentUser(r).ID, req)
	if err != nil {
		a.respondError(w, r, err, "Server error updating profile")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"user":    user,
	})
}
