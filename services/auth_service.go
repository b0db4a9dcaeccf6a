package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apexmotive/dashboard-backend/config"
)

// TokenResponse represents the OAuth2 token endpoint response from Auth0
type TokenResponse struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Auth0TokenExchanger exchanges authorization codes for tokens at the
// tenant's /oauth/token endpoint
type Auth0TokenExchanger struct {
	cfg        config.Auth0Config
	tokenURL   string
	httpClient *http.Client
}

// NewAuth0TokenExchanger creates a new token exchanger
func NewAuth0TokenExchanger(cfg config.Auth0Config) *Auth0TokenExchanger {
	timeout := cfg.HTTPTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Auth0TokenExchanger{
		cfg:      cfg,
		tokenURL: cfg.TokenURL(),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ExchangeCode exchanges an authorization code for ID and access tokens.
// The returned ID token still has to go through normal validation; the
// exchange itself proves nothing about the caller.
func (e *Auth0TokenExchanger) ExchangeCode(ctx context.Context, code, redirectURI string) (idToken string, err error) {
	if e.cfg.Domain == "" || e.cfg.ClientID == "" {
		return "", NewDomainError(ErrorTypeExternal, "code exchange failed", fmt.Errorf("auth0 login flow not configured"))
	}

	data := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {e.cfg.ClientID},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}

	if e.cfg.ClientSecret != "" {
		data.Set("client_secret", e.cfg.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", NewDomainError(ErrorTypeExternal, "code exchange failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// The body is the tenant's error description; it never contains
		// the code or tokens, so it is safe to include.
		return "", NewDomainError(ErrorTypeExternal, "code exchange failed",
			fmt.Errorf("token exchange failed: status %d, body: %s", resp.StatusCode, string(body)))
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", fmt.Errorf("parse token response: %w", err)
	}

	if tokenResp.IDToken == "" {
		return "", NewDomainError(ErrorTypeExternal, "code exchange failed", fmt.Errorf("no id_token in response"))
	}

	return tokenResp.IDToken, nil
}
