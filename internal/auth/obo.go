package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docser/docser/config"
)

const oboGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// Exchanger swaps a caller's access token for a delegated token scoped to
// the downstream search service (the on-behalf-of grant).
type Exchanger struct {
	tokenURL     string
	clientID     string
	clientSecret string
	scope        string
	httpClient   *http.Client
	logger       *zap.Logger
}

func NewExchanger(cfg config.AuthConfig, logger *zap.Logger) *Exchanger {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Exchanger{
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scope:        cfg.Scope,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// Exchange performs the on-behalf-of grant for one user token.
func (e *Exchanger) Exchange(ctx context.Context, userToken string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", oboGrantType)
	form.Set("client_id", e.clientID)
	form.Set("client_secret", e.clientSecret)
	form.Set("assertion", userToken)
	form.Set("scope", e.scope)
	form.Set("requested_token_use", "on_behalf_of")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && resp.StatusCode == http.StatusOK {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != "" {
			return "", fmt.Errorf("token exchange failed: %s: %s", out.Error, out.ErrorDescription)
		}
		return "", fmt.Errorf("token exchange returned status: %d", resp.StatusCode)
	}
	if out.AccessToken == "" {
		return "", errors.New("token exchange response missing access_token")
	}

	e.logger.Debug("exchanged token on behalf of caller")
	return out.AccessToken, nil
}

// RequestTokenProvider reads the caller's own bearer token from the request
// context and exchanges it for a delegated search token. The exchange runs
// on every call so a shared backend never caches one user's identity.
type RequestTokenProvider struct {
	exchanger *Exchanger
}

func NewRequestTokenProvider(e *Exchanger) *RequestTokenProvider {
	return &RequestTokenProvider{exchanger: e}
}

func (p *RequestTokenProvider) GetToken(ctx context.Context) (string, error) {
	raw, ok := RawTokenFromContext(ctx)
	if !ok {
		return "", errors.New("no caller token in request context")
	}
	return p.exchanger.Exchange(ctx, raw)
}
