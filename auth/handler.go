package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/apexmotive/dashboard-backend/auth0"
	"github.com/apexmotive/dashboard-backend/config"
	"github.com/apexmotive/dashboard-backend/utils"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName = "oauth_state"
	// SessionCookieName is the cookie name for the session token
	SessionCookieName   = "session"
	stateCookieMaxAge   = 600
	sessionCookieMaxAge = 86400 * 7 // 7 days
)

// TokenExchanger exchanges OAuth2 authorization codes for tokens at the
// tenant's token endpoint.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (idToken string, err error)
}

// TokenValidator validates JWT tokens and returns parsed claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth0.Claims, error)
}

// Handler handles the Universal Login flow (login, callback, logout).
type Handler struct {
	cfg       *config.Config
	exchanger TokenExchanger
	validator TokenValidator
	logger    *zap.Logger
}

// NewHandler creates a new auth handler with the given config, token exchanger, and validator.
func NewHandler(cfg *config.Config, exchanger TokenExchanger, validator TokenValidator, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		exchanger: exchanger,
		validator: validator,
		logger:    logger,
	}
}

// HandleLogin redirects to the tenant's Universal Login page
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Auth0.Domain == "" || h.cfg.Auth0.ClientID == "" {
		h.logger.Error("auth0 not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.Auth0.RedirectURI, "https"),
		SameSite: http.SameSiteLaxMode,
	})

	authURL := buildAuthorizeURL(h.cfg.Auth0, state)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback exchanges the authorization code for tokens, validates the
// ID token, and sets the session cookie. The first authenticated request
// through the middleware provisions the local identity; the callback itself
// only proves the token is valid.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("authorization denied at tenant",
			zap.String("error", errParam),
			zap.String("description", r.URL.Query().Get("error_description")))
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || stateCookie.Value != state {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     StateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.Auth0.RedirectURI, "https"),
		SameSite: http.SameSiteLaxMode,
	})

	if h.exchanger == nil {
		h.logger.Error("token exchanger not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	idToken, err := h.exchanger.ExchangeCode(r.Context(), code, h.cfg.Auth0.RedirectURI)
	if err != nil {
		h.logger.Warn("token exchange failed", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Authentication failed")
		return
	}

	if h.validator == nil {
		h.logger.Error("token validator not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	if _, err = h.validator.ValidateToken(r.Context(), idToken); err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		_ = utils.WriteUnauthorized(w, "Invalid token")
		return
	}

	secure := strings.HasPrefix(h.cfg.Auth0.RedirectURI, "https")
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    idToken,
		Path:     "/",
		MaxAge:   sessionCookieMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})

	redirectURL := h.cfg.Auth0.FrontendURL
	if redirectURL == "" {
		redirectURL = "/"
	}
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// HandleLogout clears the session cookie and redirects to the tenant logout endpoint
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.Auth0.RedirectURI, "https"),
		SameSite: http.SameSiteLaxMode,
	})

	logoutURL := buildLogoutURL(h.cfg.Auth0)
	http.Redirect(w, r, logoutURL, http.StatusFound)
}

func buildAuthorizeURL(cfg config.Auth0Config, state string) string {
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {cfg.ClientID},
		"redirect_uri":  {cfg.RedirectURI},
		"state":         {state},
		"scope":         {"openid profile email"},
	}
	if cfg.Audience != "" {
		params.Set("audience", cfg.Audience)
	}
	return cfg.AuthorizeURL() + "?" + params.Encode()
}

func buildLogoutURL(cfg config.Auth0Config) string {
	returnTo := cfg.FrontendURL
	if returnTo == "" {
		if parsed, err := url.Parse(cfg.RedirectURI); err == nil {
			returnTo = parsed.Scheme + "://" + parsed.Host
		}
	}
	params := url.Values{
		"client_id": {cfg.ClientID},
	}
	if returnTo != "" {
		params.Set("returnTo", returnTo)
	}
	return cfg.LogoutURL() + "?" + params.Encode()
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
