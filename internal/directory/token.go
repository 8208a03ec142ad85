package directory

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/plexica/tenantd/pkg/logger"
	"github.com/plexica/tenantd/prometheus"
	"go.uber.org/zap"
)

// TokenSet is the directory's answer to a successful token-endpoint call.
type TokenSet struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshExpiresIn int    `json:"refresh_expires_in,omitempty"`
	Scope            string `json:"scope,omitempty"`
}

// ExchangeCode redeems an authorization code at the realm's token endpoint.
// Plain passthrough: not realm-scope locked and not retried.
func (g *Gateway) ExchangeCode(ctx context.Context, realm, clientID, clientSecret, code, redirectURI string) (*TokenSet, error) {
	if err := ValidateRealmName(realm); err != nil {
		return nil, err
	}
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {clientID},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}
	return g.postTokenForm(ctx, realm, form)
}

// RefreshToken exchanges a refresh token for a new token set.
func (g *Gateway) RefreshToken(ctx context.Context, realm, clientID, clientSecret, refreshToken string) (*TokenSet, error) {
	if err := ValidateRealmName(realm); err != nil {
		return nil, err
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {clientID},
		"refresh_token": {refreshToken},
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}
	return g.postTokenForm(ctx, realm, form)
}

// RevokeToken revokes a refresh token at the realm's revocation endpoint.
func (g *Gateway) RevokeToken(ctx context.Context, realm, clientID, clientSecret, refreshToken string) error {
	if err := ValidateRealmName(realm); err != nil {
		return err
	}
	form := url.Values{
		"client_id": {clientID},
		"token":     {refreshToken},
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}

	path := "/realms/" + realm + "/protocol/openid-connect/revoke"
	return g.postForm(ctx, "revoke_token", path, form, nil)
}

// postTokenForm posts to a realm's token endpoint and decodes the token set.
func (g *Gateway) postTokenForm(ctx context.Context, realm string, form url.Values) (*TokenSet, error) {
	var tokens TokenSet
	path := "/realms/" + realm + "/protocol/openid-connect/token"
	if err := g.postForm(ctx, "token", path, form, &tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// postForm performs one form-encoded round-trip with the same sanitized error
// contract as admin requests, but without bearer auth or the 401 retry.
func (g *Gateway) postForm(ctx context.Context, operation, path string, form url.Values, out any) error {
	log := logger.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Error("directory token request failed",
			zap.String("operation", operation),
			zap.Error(err))
		prometheus.RecordDirectoryRequest(operation, "transport_error")
		return ErrUnreachable
	}
	defer resp.Body.Close()

	prometheus.RecordDirectoryRequest(operation, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn("directory token request rejected",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", detail))
		return newDirectoryError(resp.StatusCode)
	}

	if out != nil {
		return decodeJSON(resp.Body, out)
	}
	return nil
}
