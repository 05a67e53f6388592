package nanny

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/pflag"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"

	"github.com/Hostzero-GmbH/keycloak-nanny/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-nanny/internal/output"
)

// PasswordEnv is read when --password is not given.
const PasswordEnv = "KEYCLOAK_PASSWORD"

// Options holds the global command options
type Options struct {
	// Connection options (direct mode)
	URL        string
	Username   string
	Password   string
	AdminRealm string

	// Connection options (from-secret mode)
	FromSecret  string
	URLKey      string
	UsernameKey string
	PasswordKey string

	// Client options
	Realm     string
	Timeout   time.Duration
	RateLimit float64

	// Output options
	Output          string
	OutputDir       string
	MetricsTextfile string
}

// BindFlags binds the options to the given flag set
func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.URL, "url", "", "Keycloak server URL (e.g., http://localhost:8642)")
	fs.StringVar(&o.Username, "username", "", "Keycloak admin username")
	fs.StringVar(&o.Password, "password", "", "Keycloak admin password (use env var "+PasswordEnv+" for security)")
	fs.StringVar(&o.AdminRealm, "admin-realm", keycloak.DefaultAdminRealm, "Realm the admin user logs into")

	fs.StringVar(&o.FromSecret, "from-secret", "", "Read connection details from a Kubernetes Secret (namespace/name)")
	fs.StringVar(&o.URLKey, "url-key", "url", "Key in the secret for the server URL (used when --url is empty)")
	fs.StringVar(&o.UsernameKey, "username-key", "username", "Key in the secret for the username")
	fs.StringVar(&o.PasswordKey, "password-key", "password", "Key in the secret for the password")

	fs.StringVar(&o.Realm, "realm", keycloak.DefaultAdminRealm, "Realm used when a command is given none")
	fs.DurationVar(&o.Timeout, "timeout", keycloak.DefaultTimeout, "Timeout of each request to Keycloak")
	fs.Float64Var(&o.RateLimit, "rate-limit", 0, "Maximum Keycloak requests per second. Set to 0 for no limit.")

	fs.StringVarP(&o.Output, "output", "o", output.FormatYAML, "Output format (yaml or json)")
	fs.StringVar(&o.OutputDir, "output-dir", "", "Write one file per created resource into this directory")
	fs.StringVar(&o.MetricsTextfile, "metrics-textfile", "", "Write request metrics in Prometheus text format to this file on exit")
}

// Validate validates the options
func (o *Options) Validate() error {
	// Check password from environment if not provided
	if o.Password == "" {
		o.Password = os.Getenv(PasswordEnv)
	}

	if o.FromSecret != "" {
		if _, _, err := o.secretName(); err != nil {
			return err
		}
	} else {
		if o.URL == "" {
			return fmt.Errorf("either --url or --from-secret is required")
		}
		if o.Username == "" {
			return fmt.Errorf("--username is required when using --url")
		}
		if o.Password == "" {
			return fmt.Errorf("--password is required when using --url (or set %s env var)", PasswordEnv)
		}
	}

	if o.RateLimit < 0 {
		return fmt.Errorf("--rate-limit must not be negative")
	}

	return output.ValidateFormat(o.Output)
}

func (o *Options) secretName() (string, string, error) {
	namespace, name, ok := strings.Cut(o.FromSecret, "/")
	if !ok || namespace == "" || name == "" {
		return "", "", fmt.Errorf("--from-secret must be namespace/name, got %q", o.FromSecret)
	}
	return namespace, name, nil
}

// GetKeycloakConfig returns the Keycloak client configuration
func (o *Options) GetKeycloakConfig(ctx context.Context, log logr.Logger) (*keycloak.Config, error) {
	cfg := &keycloak.Config{
		BaseURL:           o.URL,
		AdminRealm:        o.AdminRealm,
		Username:          o.Username,
		Password:          o.Password,
		DefaultRealm:      o.Realm,
		Timeout:           o.Timeout,
		RequestsPerSecond: o.RateLimit,
	}

	if o.FromSecret == "" {
		return cfg, nil
	}

	restConfig, err := config.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to get kubeconfig: %w (ensure KUBECONFIG is set or ~/.kube/config exists)", err)
	}

	k8sClient, err := client.New(restConfig, client.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}

	if err := o.loadFromSecret(ctx, k8sClient, cfg); err != nil {
		return nil, err
	}
	log.V(1).Info("Loaded credentials from secret", "secret", o.FromSecret, "url", cfg.BaseURL)
	return cfg, nil
}

// loadFromSecret fills in whatever the flags left empty from the secret.
func (o *Options) loadFromSecret(ctx context.Context, k8sClient client.Client, cfg *keycloak.Config) error {
	namespace, name, err := o.secretName()
	if err != nil {
		return err
	}

	secret := &corev1.Secret{}
	if err := k8sClient.Get(ctx, types.NamespacedName{Name: name, Namespace: namespace}, secret); err != nil {
		return fmt.Errorf("failed to get credentials secret %s/%s: %w", namespace, name, err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = string(secret.Data[o.URLKey])
	}
	if cfg.Username == "" {
		cfg.Username = string(secret.Data[o.UsernameKey])
	}
	if cfg.Password == "" {
		cfg.Password = string(secret.Data[o.PasswordKey])
	}

	if cfg.BaseURL == "" {
		return fmt.Errorf("no --url given and key %q not found in secret %s/%s", o.URLKey, namespace, name)
	}
	if cfg.Username == "" || cfg.Password == "" {
		return fmt.Errorf("credentials secret %s/%s is missing username or password", namespace, name)
	}
	return nil
}
