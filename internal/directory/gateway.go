// Package directory wraps the identity directory's admin REST API and OIDC
// token endpoints behind a single shared administrative client.
//
// The admin client is the one explicitly shared mutable resource in the
// process: it is bound at any instant to one active realm, so realm-scoped
// configuration changes are fully serialized behind a gateway-exclusive
// mutex, and expired admin credentials are recovered transparently with a
// single re-authentication and retry.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/plexica/tenantd/internal/slug"
	"github.com/plexica/tenantd/pkg/config"
	"github.com/plexica/tenantd/pkg/logger"
	"github.com/plexica/tenantd/prometheus"
	"go.uber.org/zap"
)

// expiryLeeway is subtracted from the admin token's exp claim so a token
// about to expire mid-request is refreshed up front.
const expiryLeeway = 10 * time.Second

// Gateway is the concurrency-safe wrapper around the shared admin client.
type Gateway struct {
	baseURL       string
	masterRealm   string
	adminClientID string
	adminUser     string
	adminPassword string
	httpClient    *http.Client

	// realmMu serializes all realm-scoped work. Held for the entire
	// duration of WithRealmScope, body and reset included.
	realmMu     sync.Mutex
	activeRealm string

	// tokenMu guards the admin bearer token, which may be refreshed while
	// realmMu is held by the same call chain.
	tokenMu sync.Mutex
	token   string
}

// NewGateway creates a gateway from directory configuration.
func NewGateway(cfg *config.DirectoryConfig) *Gateway {
	return &Gateway{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		masterRealm:   cfg.MasterRealm,
		adminClientID: cfg.AdminClientID,
		adminUser:     cfg.AdminUser,
		adminPassword: cfg.AdminPassword,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		activeRealm:   cfg.MasterRealm,
	}
}

// ValidateRealmName checks that a realm name is a valid tenant slug. Realms
// are derived from tenant slugs, so they share the grammar.
func ValidateRealmName(realm string) error {
	if err := slug.Validate(realm); err != nil {
		return &InvalidRealmNameError{Realm: realm}
	}
	return nil
}

// WithRealmScope switches the shared admin client to the given realm, runs op,
// and resets to the master realm. Concurrent calls are fully serialized: a
// second caller's body never begins before the first caller's body and reset
// both complete.
func (g *Gateway) WithRealmScope(ctx context.Context, realm string, op func(ctx context.Context) error) error {
	if err := ValidateRealmName(realm); err != nil {
		return err
	}

	g.realmMu.Lock()
	defer g.realmMu.Unlock()

	g.activeRealm = realm
	defer func() {
		g.activeRealm = g.masterRealm
	}()

	return op(ctx)
}

// ActiveRealm reports the realm the shared client is currently bound to. It
// is the master realm whenever no WithRealmScope body is running.
func (g *Gateway) ActiveRealm() string {
	g.realmMu.Lock()
	defer g.realmMu.Unlock()
	return g.activeRealm
}

// Authenticate obtains a fresh admin token via the password grant against the
// master realm.
func (g *Gateway) Authenticate(ctx context.Context) error {
	form := url.Values{
		"grant_type": {"password"},
		"client_id":  {g.adminClientID},
		"username":   {g.adminUser},
		"password":   {g.adminPassword},
	}

	tokens, err := g.postTokenForm(ctx, g.masterRealm, form)
	if err != nil {
		return fmt.Errorf("admin authentication: %w", err)
	}

	g.tokenMu.Lock()
	g.token = tokens.AccessToken
	g.tokenMu.Unlock()

	prometheus.RecordDirectoryAuth()
	return nil
}

// withRetry runs op, and on an authentication-expired signal re-authenticates
// exactly once and retries op exactly once. Any other error, or a failure of
// the retried op, propagates unchanged.
func (g *Gateway) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if !isAuthExpired(err) {
		return err
	}

	if authErr := g.Authenticate(ctx); authErr != nil {
		return authErr
	}
	return op(ctx)
}

// ensureToken authenticates when no usable admin token is held. A held token
// with a readable exp claim close to expiry is refreshed proactively; opaque
// tokens are left to the 401 retry path.
func (g *Gateway) ensureToken(ctx context.Context) error {
	g.tokenMu.Lock()
	token := g.token
	g.tokenMu.Unlock()

	if token != "" && !tokenExpired(token) {
		return nil
	}
	return g.Authenticate(ctx)
}

func tokenExpired(raw string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		// Opaque token: assume valid, the 401 retry covers expiry.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < expiryLeeway
}

func (g *Gateway) bearer() string {
	g.tokenMu.Lock()
	defer g.tokenMu.Unlock()
	return g.token
}

// admin runs one admin API request under the credential-refresh policy.
func (g *Gateway) admin(ctx context.Context, operation, method, path string, body, out any) error {
	return g.withRetry(ctx, func(ctx context.Context) error {
		if err := g.ensureToken(ctx); err != nil {
			return err
		}
		return g.do(ctx, operation, method, path, body, out)
	})
}

// do performs one HTTP round-trip. Non-2xx responses come back as sanitized
// DirectoryError values; the raw status, body and URL are logged here and
// nowhere else.
func (g *Gateway) do(ctx context.Context, operation, method, path string, body, out any) error {
	log := logger.FromContext(ctx)

	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+g.bearer())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Error("directory request failed",
			zap.String("operation", operation),
			zap.String("method", method),
			zap.Error(err))
		prometheus.RecordDirectoryRequest(operation, "transport_error")
		return ErrUnreachable
	}
	defer resp.Body.Close()

	prometheus.RecordDirectoryRequest(operation, strconv.Itoa(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn("directory request rejected",
			zap.String("operation", operation),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", detail))
		return newDirectoryError(resp.StatusCode)
	}

	if out != nil {
		if err := decodeJSON(resp.Body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
	}
	return nil
}

func decodeJSON(r io.Reader, out any) error {
	return json.NewDecoder(r).Decode(out)
}
