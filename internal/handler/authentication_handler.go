package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"TrackerAuth/internal/model"
	"TrackerAuth/internal/security"
	"TrackerAuth/internal/service"

	"github.com/go-chi/chi/v5"
)

const requestTimeout = 3 * time.Second

type AuthenticationHandler struct {
	*service.AuthenticationService
	cookie CookieSettings
}

// LoginRequest carries the user's credentials
// swagger:model
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func NewAuthenticationHandler(authenticationService *service.AuthenticationService, cookie CookieSettings) *AuthenticationHandler {
	return &AuthenticationHandler{AuthenticationService: authenticationService, cookie: cookie}
}

// Register mounts the auth endpoints and the protected session endpoint.
// /login, /refresh and /logout carry no bearer: they work from the body or
// the refresh cookie alone.
func (handler *AuthenticationHandler) Register(router chi.Router, verifier security.AccessVerifier, policy *security.AuthorizationPolicy) {
	router.Route("/api", func(r chi.Router) {
		r.Post("/login", handler.Login)
		r.Post("/refresh", handler.Refresh)
		r.Post("/logout", handler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(security.JWTMiddleware(verifier))
			r.Use(security.Authorize(policy))
			r.Get("/session", handler.GetSession)
		})
	})
}

// Login godoc
// @Summary Log in
// @Description Verifies credentials, returns an access token and sets the refresh cookie.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "credentials"
// @Success 200 {object} model.AccessTokenResponse
// @Failure 400 {object} errorResponse "malformed body or empty fields"
// @Failure 401 {object} errorResponse "invalid credentials"
// @Router /api/login [post]
func (handler *AuthenticationHandler) Login(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), requestTimeout)
	defer cancel()

	var loginRequest LoginRequest
	if err := json.NewDecoder(request.Body).Decode(&loginRequest); err != nil {
		writeError(writer, http.StatusBadRequest, "invalid json")
		return
	}
	loginRequest.Username = strings.TrimSpace(loginRequest.Username)
	if loginRequest.Username == "" || loginRequest.Password == "" {
		writeError(writer, http.StatusBadRequest, "username and password are required")
		return
	}

	issued, err := handler.AuthenticationService.Login(ctx, loginRequest.Username, loginRequest.Password)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			writeError(writer, http.StatusUnauthorized, model.ErrInvalidCredentials.Error())
			return
		}
		slog.ErrorContext(ctx, "login failed", "error", err)
		writeError(writer, http.StatusInternalServerError, "login failed")
		return
	}

	handler.setRefreshCookie(writer, issued.RefreshToken, issued.RefreshExpiresAt)
	writeJSON(writer, http.StatusOK, &model.AccessTokenResponse{AccessToken: issued.AccessToken})
}

// Refresh godoc
// @Summary Refresh the access token
// @Description Exchanges the refresh cookie for a new access token and rotates the cookie.
// @Tags Authentication
// @Produce json
// @Success 200 {object} model.AccessTokenResponse
// @Failure 403 {object} errorResponse "refresh credential missing, expired, invalid or already used"
// @Router /api/refresh [post]
func (handler *AuthenticationHandler) Refresh(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), requestTimeout)
	defer cancel()

	refreshToken := handler.refreshTokenFromCookie(request)
	if refreshToken == "" {
		writeError(writer, http.StatusForbidden, model.ErrRefreshRejected.Error())
		return
	}

	client := service.ClientInfo{
		IPAddress: request.RemoteAddr,
		UserAgent: request.UserAgent(),
	}

	issued, err := handler.AuthenticationService.Refresh(ctx, refreshToken, client)
	if err != nil {
		if errors.Is(err, model.ErrRefreshRejected) {
			slog.InfoContext(ctx, "refresh rejected", "error", err)
			handler.clearRefreshCookie(writer)
			writeError(writer, http.StatusForbidden, model.ErrRefreshRejected.Error())
			return
		}
		slog.ErrorContext(ctx, "refresh failed", "error", err)
		writeError(writer, http.StatusInternalServerError, "refresh failed")
		return
	}

	handler.setRefreshCookie(writer, issued.RefreshToken, issued.RefreshExpiresAt)
	writeJSON(writer, http.StatusOK, &model.AccessTokenResponse{AccessToken: issued.AccessToken})
}

// Logout godoc
// @Summary Log out
// @Description Invalidates the stored refresh record and clears the cookie.
// @Tags Authentication
// @Success 204
// @Failure 500 {object} errorResponse
// @Router /api/logout [post]
func (handler *AuthenticationHandler) Logout(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), requestTimeout)
	defer cancel()

	handler.clearRefreshCookie(writer)

	if err := handler.AuthenticationService.Logout(ctx, handler.refreshTokenFromCookie(request)); err != nil {
		slog.ErrorContext(ctx, "logout failed", "error", err)
		writeError(writer, http.StatusInternalServerError, "logout failed")
		return
	}

	writer.WriteHeader(http.StatusNoContent)
}

// GetSession godoc
// @Summary Current session
// @Description Returns the identity carried by the bearer token.
// @Tags Authentication
// @Produce json
// @Param Authorization header string true "Bearer token"
// @Success 200 {object} model.SessionView
// @Failure 401 {object} errorResponse "missing, expired or invalid token"
// @Failure 403 {object} errorResponse "role not allowed"
// @Router /api/session [get]
func (handler *AuthenticationHandler) GetSession(writer http.ResponseWriter, request *http.Request) {
	claims, ok := security.ClaimsFromContext(request.Context())
	if !ok {
		writeError(writer, http.StatusUnauthorized, model.ErrMissingToken.Error())
		return
	}

	writeJSON(writer, http.StatusOK, claims.View())
}
