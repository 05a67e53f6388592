package keycloak

import (
	"context"
	"fmt"
	"net/url"

	"k8s.io/apimachinery/pkg/util/sets"
)

// ResourceType names the kind of a created Keycloak object
type ResourceType string

const (
	ResourceTypeRealm  ResourceType = "realm"
	ResourceTypeClient ResourceType = "client"
	ResourceTypeUser   ResourceType = "user"
)

// KcResource is a Keycloak object as returned after creation
type KcResource struct {
	Type ResourceType           `json:"type"`
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Info map[string]interface{} `json:"info"`
}

// DefaultRealm returns the realm used by operations that are given none.
func (c *Client) DefaultRealm() string {
	c.realmMutex.RLock()
	defer c.realmMutex.RUnlock()
	return c.defaultRealm
}

// SetDefaultRealm changes the default realm after checking it exists.
func (c *Client) SetDefaultRealm(ctx context.Context, realm string) error {
	realms, err := c.GetRealms(ctx)
	if err != nil {
		return err
	}
	if !realms.Has(realm) {
		return &ValidationError{Field: "realm", Value: realm, Message: "realm does not exist"}
	}

	c.realmMutex.Lock()
	c.defaultRealm = realm
	c.realmMutex.Unlock()
	return nil
}

func (c *Client) realmOrDefault(realm string) string {
	if realm != "" {
		return realm
	}
	return c.DefaultRealm()
}

// createAndFetch posts body to path and loads the object the Location
// header points at.
func (c *Client) createAndFetch(ctx context.Context, resourceType ResourceType, path, nameField string, body interface{}) (*KcResource, error) {
	resp, err := c.Post(ctx, path, WithBody(body))
	if err != nil {
		return nil, err
	}

	location := resp.Header().Get("Location")
	if location == "" {
		return nil, fmt.Errorf("creating %s at %s: response has no Location header", resourceType, path)
	}

	var info map[string]interface{}
	if err := c.GetJSON(ctx, location, &info); err != nil {
		return nil, err
	}

	id, _ := info["id"].(string)
	name, _ := info[nameField].(string)
	if id == "" || name == "" {
		return nil, fmt.Errorf("%s at %s is missing id or %s", resourceType, location, nameField)
	}

	return &KcResource{Type: resourceType, ID: id, Name: name, Info: info}, nil
}

// ============================================================================
// Realm Operations
// ============================================================================

// GetRealms returns the names of all realms
func (c *Client) GetRealms(ctx context.Context) (sets.Set[string], error) {
	var realms []struct {
		Realm string `json:"realm"`
	}
	if err := c.GetJSON(ctx, "/admin/realms", &realms); err != nil {
		return nil, err
	}

	names := sets.New[string]()
	for _, r := range realms {
		names.Insert(r.Realm)
	}
	return names, nil
}

// CreateRealm creates an enabled realm. An empty name gets a random one.
func (c *Client) CreateRealm(ctx context.Context, name string) (*KcResource, error) {
	if name == "" {
		name = RandomName("realm-", 8, "")
	}
	c.log.Info("Creating realm", "realm", name)
	return c.createAndFetch(ctx, ResourceTypeRealm, "/admin/realms", "realm", map[string]interface{}{
		"realm":   name,
		"enabled": true,
	})
}

// DeleteRealm deletes a realm
func (c *Client) DeleteRealm(ctx context.Context, name string) error {
	c.log.Info("Deleting realm", "realm", name)
	_, err := c.Delete(ctx, "/admin/realms/"+url.PathEscape(name))
	return err
}

// ============================================================================
// Client Operations
// ============================================================================

// ClientOptions controls the client created by CreateClient. The zero value
// is a confidential client with every flow enabled.
type ClientOptions struct {
	// ClientID defaults to a random name with ClientIDPrefix ("client-" when empty).
	ClientID       string
	ClientIDPrefix string
	// Realm defaults to the client's default realm.
	Realm string

	// Public clients have no secret.
	Public bool
	// DisableStandardFlow turns off the authorization code flow.
	DisableStandardFlow bool
	// DisableServiceAccount turns off the client credentials grant.
	DisableServiceAccount bool
	// DisablePasswordFlow turns off direct access grants.
	DisablePasswordFlow bool
	// DisableDeviceFlow turns off the device authorization grant.
	DisableDeviceFlow bool
}

// DefaultClientOptions returns a confidential client with every flow enabled.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{ClientIDPrefix: "client-"}
}

func (o ClientOptions) representation() map[string]interface{} {
	return map[string]interface{}{
		"protocol":                  "openid-connect",
		"clientId":                  o.ClientID,
		"enabled":                   true,
		"publicClient":              o.Public,
		"standardFlowEnabled":       !o.DisableStandardFlow,
		"serviceAccountsEnabled":    !o.DisableServiceAccount,
		"directAccessGrantsEnabled": !o.DisablePasswordFlow,
		"attributes": map[string]interface{}{
			"oauth2.device.authorization.grant.enabled": !o.DisableDeviceFlow,
		},
	}
}

// CreateClient creates an OpenID Connect client
func (c *Client) CreateClient(ctx context.Context, opts ClientOptions) (*KcResource, error) {
	if opts.ClientID == "" {
		prefix := opts.ClientIDPrefix
		if prefix == "" {
			prefix = "client-"
		}
		opts.ClientID = RandomName(prefix, 8, "")
	}
	realm := c.realmOrDefault(opts.Realm)

	c.log.Info("Creating client", "clientId", opts.ClientID, "realm", realm)
	return c.createAndFetch(ctx, ResourceTypeClient,
		"/admin/realms/"+url.PathEscape(realm)+"/clients", "clientId", opts.representation())
}

// ============================================================================
// User Operations
// ============================================================================

// UserOptions controls the user created by CreateUser
type UserOptions struct {
	// Username defaults to a random name with UsernamePrefix ("user-" when empty).
	Username       string
	UsernamePrefix string
	// Password defaults to a short random one.
	Password string
	// Realm defaults to the client's default realm.
	Realm string
}

// CreateUser creates an enabled user with a non-temporary password
func (c *Client) CreateUser(ctx context.Context, opts UserOptions) (*KcResource, error) {
	if opts.Username == "" {
		prefix := opts.UsernamePrefix
		if prefix == "" {
			prefix = "user-"
		}
		opts.Username = RandomName(prefix, 8, "")
	}
	if opts.Password == "" {
		opts.Password = RandomName("pwd-", 4, "")
	}
	realm := c.realmOrDefault(opts.Realm)

	c.log.Info("Creating user", "username", opts.Username, "realm", realm)
	return c.createAndFetch(ctx, ResourceTypeUser,
		"/admin/realms/"+url.PathEscape(realm)+"/users", "username", map[string]interface{}{
			"username": opts.Username,
			"enabled":  true,
			"credentials": []map[string]interface{}{
				{
					"type":      "password",
					"value":     opts.Password,
					"temporary": false,
				},
			},
		})
}
