package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/waveline/server/internal/auth"
	"github.com/waveline/server/internal/logging"
	"github.com/waveline/server/internal/middleware"
	"github.com/waveline/server/internal/model"
)

// AuthHandler handles the authentication endpoints.
type AuthHandler struct {
	authService *auth.AuthService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// registerRequest is the request body for register and the admin-creation
// endpoints.
type registerRequest struct {
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"passwordConfirmation"`
}

func (r *registerRequest) validate() string {
	r.Email = strings.TrimSpace(r.Email)
	switch {
	case r.FirstName == "":
		return "firstName is required"
	case r.LastName == "":
		return "lastName is required"
	case r.Email == "" || !strings.Contains(r.Email, "@"):
		return "a valid email is required"
	case len(r.Password) < 6:
		return "password must be at least 6 characters"
	case r.Password != r.PasswordConfirmation:
		return "passwords do not match"
	}
	return ""
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request, create func() (model.PublicUser, error)) {
	user, err := create()
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, auth.ErrAdminExists):
			respondWithError(w, http.StatusConflict, err.Error())
		default:
			logging.FromContext(r.Context()).Error("create user failed", "error", err)
			respondWithError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// HandleRegister handles POST /auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}
	h.register(w, r, func() (model.PublicUser, error) {
		return h.authService.Register(r.Context(), auth.RegisterInput{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Password:  req.Password,
		})
	})
}

// HandleCreateAdmin handles POST /auth/create-admin (admin only)
func (h *AuthHandler) HandleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}
	h.register(w, r, func() (model.PublicUser, error) {
		return h.authService.CreateAdmin(r.Context(), auth.RegisterInput{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Password:  req.Password,
		})
	})
}

// HandleCreateFirstAdmin handles POST /auth/create-first-admin, the one-time
// unauthenticated bootstrap path.
func (h *AuthHandler) HandleCreateFirstAdmin(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}
	h.register(w, r, func() (model.PublicUser, error) {
		return h.authService.CreateFirstAdmin(r.Context(), auth.RegisterInput{
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Email:     req.Email,
			Password:  req.Password,
		})
	})
}

// loginRequest is the request body for POST /auth/login
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	tokens, err := h.authService.Login(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondWithError(w, http.StatusUnauthorized, "Invalid email or password")
		case errors.Is(err, auth.ErrAccountDisabled):
			respondWithError(w, http.StatusForbidden, "Your account was disabled")
		default:
			logging.FromContext(r.Context()).Error("login failed", "error", err)
			respondWithError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	respondJSON(w, http.StatusOK, tokens)
}

// HandleLogout handles DELETE /auth/logout. Returns null tokens as the
// client's cue to discard its copies.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.GetClaims(r.Context())

	if err := h.authService.Logout(r.Context(), claims.SessionID); err != nil {
		logging.FromContext(r.Context()).Error("logout failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"accessToken": nil, "refreshToken": nil})
}

// HandleSessions handles GET /auth/sessions
func (h *AuthHandler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.GetClaims(r.Context())

	sessions, err := h.authService.Sessions(r.Context(), claims.UserID)
	if err != nil {
		logging.FromContext(r.Context()).Error("list sessions failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	respondJSON(w, http.StatusOK, sessions)
}

// forgotPasswordRequest doubles as the change-email body: both carry a single
// email field.
type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// HandleForgotPassword handles POST /auth/forgot-password
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		respondWithError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := h.authService.ForgotPassword(r.Context(), req.Email); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		logging.FromContext(r.Context()).Error("forgot password failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password reset email sent"})
}

// resetPasswordRequest is the body for both reset-password and
// change-password.
type resetPasswordRequest struct {
	Password             string `json:"password"`
	PasswordConfirmation string `json:"passwordConfirmation"`
}

func (r *resetPasswordRequest) validate() string {
	switch {
	case len(r.Password) < 6:
		return "password must be at least 6 characters"
	case r.Password != r.PasswordConfirmation:
		return "passwords do not match"
	}
	return ""
}

// HandleResetPassword handles POST /auth/reset-password/{token}. The token
// middleware has already resolved the token to its owning user.
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetCredentialUser(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.authService.ResetPassword(r.Context(), user, req.Password, true); err != nil {
		logging.FromContext(r.Context()).Error("reset password failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password reset success"})
}

// HandleChangePassword handles POST /auth/change-password, the authenticated
// variant with no token involved.
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.GetClaims(r.Context())

	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := req.validate(); msg != "" {
		respondWithError(w, http.StatusBadRequest, msg)
		return
	}

	user := model.User{ID: claims.UserID, Email: claims.Email, FirstName: claims.FirstName, LastName: claims.LastName}
	if err := h.authService.ResetPassword(r.Context(), user, req.Password, false); err != nil {
		logging.FromContext(r.Context()).Error("change password failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Password reset success"})
}

// HandleVerifyEmail handles POST /auth/verify-email/{token}
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetCredentialUser(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	if err := h.authService.VerifyEmail(r.Context(), user.ID); err != nil {
		logging.FromContext(r.Context()).Error("verify email failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

// HandleResendVerification handles POST /auth/resend-verification
func (h *AuthHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.GetClaims(r.Context())

	if err := h.authService.ResendVerification(r.Context(), claims.UserID); err != nil {
		logging.FromContext(r.Context()).Error("resend verification failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Verification email sent"})
}

// HandleChangeEmail handles POST /auth/change-email/{id}
func (h *AuthHandler) HandleChangeEmail(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req forgotPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		respondWithError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	user, err := h.authService.RequestEmailChange(r.Context(), userID, req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) || errors.Is(err, auth.ErrNotVerified) {
			respondWithError(w, http.StatusInternalServerError, "User not found or email not verified")
			return
		}
		logging.FromContext(r.Context()).Error("email change request failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// HandleConfirmEmailChange handles POST /auth/change-email/{id}/confirm/{token}
func (h *AuthHandler) HandleConfirmEmailChange(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r)
	if !ok {
		return
	}
	token := chi.URLParam(r, "token")

	if _, err := h.authService.ConfirmEmailChange(r.Context(), userID, token); err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			respondWithError(w, http.StatusUnauthorized, "Token expired")
		case errors.Is(err, auth.ErrInvalidToken):
			respondWithError(w, http.StatusUnauthorized, "Invalid token")
		default:
			logging.FromContext(r.Context()).Error("email change confirm failed", "error", err)
			respondWithError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

// changeRoleRequest is the body for POST /auth/change-user-role/{id}
type changeRoleRequest struct {
	Role model.Role `json:"role"`
}

// HandleChangeUserRole handles POST /auth/change-user-role/{id} (admin only)
func (h *AuthHandler) HandleChangeUserRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	var req changeRoleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Role != model.RoleUser && req.Role != model.RoleAdmin {
		respondWithError(w, http.StatusBadRequest, "role must be USER or ADMIN")
		return
	}

	user, err := h.authService.ChangeUserRole(r.Context(), userID, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		logging.FromContext(r.Context()).Error("change role failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// HandleDisableUser handles POST /auth/disable-user/{id} (admin only)
func (h *AuthHandler) HandleDisableUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseIDParam(w, r)
	if !ok {
		return
	}

	if err := h.authService.DisableUser(r.Context(), userID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		logging.FromContext(r.Context()).Error("disable user failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

// HandleMe handles GET /auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.GetClaims(r.Context())

	user, err := h.authService.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			respondWithError(w, http.StatusNotFound, "User not found")
			return
		}
		logging.FromContext(r.Context()).Error("get user failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// HandleRefresh handles GET /auth/refresh: the x-refresh request header
// carries the refresh token, and the minted access token is returned in the
// x-access-token response header.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := strings.TrimSpace(r.Header.Get("x-refresh"))
	if refreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "x-refresh header is required")
		return
	}

	accessToken, err := h.authService.ReissueAccessToken(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshDenied) {
			respondWithError(w, http.StatusUnauthorized, "invalid or expired refresh token")
			return
		}
		logging.FromContext(r.Context()).Error("refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("x-access-token", accessToken)
	respondJSON(w, http.StatusOK, nil)
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid user id")
		return uuid.Nil, false
	}
	return id, true
}
