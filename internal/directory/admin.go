package directory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/plexica/tenantd/pkg/logger"
	"go.uber.org/zap"
)

// Realm-level role names provisioned for every tenant.
const (
	RoleTenantAdministrator = "tenant-administrator"
	RoleStandardUser        = "standard-user"
)

// Suffixes appended to the realm name to form the two per-tenant client IDs.
const (
	webClientSuffix     = "-web"
	serviceClientSuffix = "-service"
)

type realmRepresentation struct {
	Realm   string `json:"realm"`
	Enabled bool   `json:"enabled"`
}

type clientRepresentation struct {
	ID                        string   `json:"id,omitempty"`
	ClientID                  string   `json:"clientId"`
	Name                      string   `json:"name,omitempty"`
	Protocol                  string   `json:"protocol,omitempty"`
	Enabled                   bool     `json:"enabled"`
	PublicClient              bool     `json:"publicClient"`
	ServiceAccountsEnabled    bool     `json:"serviceAccountsEnabled"`
	StandardFlowEnabled       bool     `json:"standardFlowEnabled"`
	ImplicitFlowEnabled       bool     `json:"implicitFlowEnabled"`
	DirectAccessGrantsEnabled bool     `json:"directAccessGrantsEnabled"`
	RedirectURIs              []string `json:"redirectUris,omitempty"`
	WebOrigins                []string `json:"webOrigins,omitempty"`
}

type roleRepresentation struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Composite   bool   `json:"composite"`
	ClientRole  bool   `json:"clientRole"`
}

type userRepresentation struct {
	ID            string `json:"id,omitempty"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Enabled       bool   `json:"enabled"`
	EmailVerified bool   `json:"emailVerified"`
}

// EnsureRealm creates the realm when it does not exist yet and is a no-op when
// it does.
func (g *Gateway) EnsureRealm(ctx context.Context, realm string) error {
	if err := ValidateRealmName(realm); err != nil {
		return err
	}

	var existing realmRepresentation
	err := g.admin(ctx, "get_realm", http.MethodGet, "/admin/realms/"+realm, nil, &existing)
	if err == nil {
		logger.FromContext(ctx).Info("realm already exists, skipping creation", zap.String("realm", realm))
		return nil
	}
	if !IsNotFound(err) {
		return err
	}

	rep := realmRepresentation{Realm: realm, Enabled: true}
	return g.admin(ctx, "create_realm", http.MethodPost, "/admin/realms", rep, nil)
}

// DeleteRealm removes the realm and everything in it.
func (g *Gateway) DeleteRealm(ctx context.Context, realm string) error {
	if err := ValidateRealmName(realm); err != nil {
		return err
	}
	return g.admin(ctx, "delete_realm", http.MethodDelete, "/admin/realms/"+realm, nil, nil)
}

// ProvisionRealmClients idempotently ensures the realm holds exactly two
// clients: a public browser client restricted to the authorization-code flow,
// and a confidential service client with only its service account enabled.
// Existing clients are left untouched, never updated in place or duplicated.
func (g *Gateway) ProvisionRealmClients(ctx context.Context, realm string, redirectURIs, webOrigins []string) error {
	return g.WithRealmScope(ctx, realm, func(ctx context.Context) error {
		if len(redirectURIs) == 0 {
			redirectURIs = []string{"*"}
		}
		if len(webOrigins) == 0 {
			webOrigins = []string{"*"}
		}

		web := clientRepresentation{
			ClientID:                  realm + webClientSuffix,
			Name:                      realm + " web client",
			Protocol:                  "openid-connect",
			Enabled:                   true,
			PublicClient:              true,
			StandardFlowEnabled:       true,
			ImplicitFlowEnabled:       false,
			DirectAccessGrantsEnabled: false,
			ServiceAccountsEnabled:    false,
			RedirectURIs:              redirectURIs,
			WebOrigins:                webOrigins,
		}
		if err := g.ensureClient(ctx, realm, web); err != nil {
			return err
		}

		service := clientRepresentation{
			ClientID:                  realm + serviceClientSuffix,
			Name:                      realm + " service client",
			Protocol:                  "openid-connect",
			Enabled:                   true,
			PublicClient:              false,
			ServiceAccountsEnabled:    true,
			StandardFlowEnabled:       false,
			ImplicitFlowEnabled:       false,
			DirectAccessGrantsEnabled: false,
		}
		return g.ensureClient(ctx, realm, service)
	})
}

// ensureClient looks a client up by clientId and creates it only when absent.
func (g *Gateway) ensureClient(ctx context.Context, realm string, rep clientRepresentation) error {
	existing, err := g.findClient(ctx, realm, rep.ClientID)
	if err != nil {
		return err
	}
	if existing != nil {
		logger.FromContext(ctx).Info("client already exists, skipping creation",
			zap.String("realm", realm),
			zap.String("client_id", rep.ClientID))
		return nil
	}

	err = g.admin(ctx, "create_client", http.MethodPost,
		"/admin/realms/"+realm+"/clients", rep, nil)
	if IsConflict(err) {
		// Lost a race with a concurrent provision of the same realm.
		return nil
	}
	return err
}

func (g *Gateway) findClient(ctx context.Context, realm, clientID string) (*clientRepresentation, error) {
	var clients []clientRepresentation
	path := "/admin/realms/" + realm + "/clients?clientId=" + url.QueryEscape(clientID)
	if err := g.admin(ctx, "find_client", http.MethodGet, path, nil, &clients); err != nil {
		return nil, err
	}
	for i := range clients {
		if clients[i].ClientID == clientID {
			return &clients[i], nil
		}
	}
	return nil, nil
}

// DeleteClient removes a client by its clientId. Missing clients are not an
// error; rollback paths call this after partially failed provisioning.
func (g *Gateway) DeleteClient(ctx context.Context, realm, clientID string) error {
	existing, err := g.findClient(ctx, realm, clientID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	return g.admin(ctx, "delete_client", http.MethodDelete,
		"/admin/realms/"+realm+"/clients/"+existing.ID, nil, nil)
}

// WebClientID returns the clientId of the realm's public browser client.
func WebClientID(realm string) string { return realm + webClientSuffix }

// ServiceClientID returns the clientId of the realm's confidential service
// client.
func ServiceClientID(realm string) string { return realm + serviceClientSuffix }

// ProvisionRealmRoles idempotently ensures the two realm-level roles every
// tenant gets: tenant-administrator and standard-user. Both are plain realm
// roles, non-composite and not bound to a client.
func (g *Gateway) ProvisionRealmRoles(ctx context.Context, realm string) error {
	return g.WithRealmScope(ctx, realm, func(ctx context.Context) error {
		roles := []roleRepresentation{
			{Name: RoleTenantAdministrator, Description: "Full administrative access within the tenant", Composite: false, ClientRole: false},
			{Name: RoleStandardUser, Description: "Standard user access within the tenant", Composite: false, ClientRole: false},
		}
		for _, role := range roles {
			if err := g.ensureRole(ctx, realm, role); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *Gateway) ensureRole(ctx context.Context, realm string, rep roleRepresentation) error {
	var existing roleRepresentation
	err := g.admin(ctx, "get_role", http.MethodGet,
		"/admin/realms/"+realm+"/roles/"+rep.Name, nil, &existing)
	if err == nil {
		logger.FromContext(ctx).Info("role already exists, skipping creation",
			zap.String("realm", realm),
			zap.String("role", rep.Name))
		return nil
	}
	if !IsNotFound(err) {
		return err
	}

	err = g.admin(ctx, "create_role", http.MethodPost,
		"/admin/realms/"+realm+"/roles", rep, nil)
	if IsConflict(err) {
		return nil
	}
	return err
}

// DeleteRole removes a realm role. Missing roles are not an error.
func (g *Gateway) DeleteRole(ctx context.Context, realm, name string) error {
	err := g.admin(ctx, "delete_role", http.MethodDelete,
		"/admin/realms/"+realm+"/roles/"+name, nil, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// FindUserByEmail returns the id of the realm user with the given email, or
// empty when no such user exists.
func (g *Gateway) FindUserByEmail(ctx context.Context, realm, email string) (string, error) {
	var users []userRepresentation
	path := "/admin/realms/" + realm + "/users?email=" + url.QueryEscape(email) + "&exact=true"
	if err := g.admin(ctx, "find_user", http.MethodGet, path, nil, &users); err != nil {
		return "", err
	}
	for _, u := range users {
		if strings.EqualFold(u.Email, email) {
			return u.ID, nil
		}
	}
	return "", nil
}

// CreateUser creates an enabled realm user keyed by email and returns its id.
// An existing user with the same email is reused.
func (g *Gateway) CreateUser(ctx context.Context, realm, email string) (string, error) {
	if id, err := g.FindUserByEmail(ctx, realm, email); err != nil {
		return "", err
	} else if id != "" {
		logger.FromContext(ctx).Info("user already exists, skipping creation",
			zap.String("realm", realm))
		return id, nil
	}

	rep := userRepresentation{
		Username: email,
		Email:    email,
		Enabled:  true,
	}
	err := g.admin(ctx, "create_user", http.MethodPost,
		"/admin/realms/"+realm+"/users", rep, nil)
	if err != nil && !IsConflict(err) {
		return "", err
	}

	// The directory answers creation with a Location header, not a body;
	// resolving by email avoids caring about either shape.
	id, err := g.FindUserByEmail(ctx, realm, email)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("user %q not found after creation in realm %q", email, realm)
	}
	return id, nil
}

// DeleteUser removes a realm user by id.
func (g *Gateway) DeleteUser(ctx context.Context, realm, userID string) error {
	return g.admin(ctx, "delete_user", http.MethodDelete,
		"/admin/realms/"+realm+"/users/"+userID, nil, nil)
}

// AssignRealmRole grants an existing realm role to a user.
func (g *Gateway) AssignRealmRole(ctx context.Context, realm, userID, roleName string) error {
	var role roleRepresentation
	if err := g.admin(ctx, "get_role", http.MethodGet,
		"/admin/realms/"+realm+"/roles/"+roleName, nil, &role); err != nil {
		return err
	}

	return g.admin(ctx, "assign_role", http.MethodPost,
		"/admin/realms/"+realm+"/users/"+userID+"/role-mappings/realm",
		[]roleRepresentation{role}, nil)
}

// SendInvitation triggers the directory's execute-actions email so the user
// sets a password and verifies the address.
func (g *Gateway) SendInvitation(ctx context.Context, realm, userID string) error {
	actions := []string{"UPDATE_PASSWORD", "VERIFY_EMAIL"}
	return g.admin(ctx, "send_invitation", http.MethodPut,
		"/admin/realms/"+realm+"/users/"+userID+"/execute-actions-email", actions, nil)
}
