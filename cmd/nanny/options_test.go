package nanny

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/Hostzero-GmbH/keycloak-nanny/internal/keycloak"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		env     string
		wantErr string
	}{
		{
			name:    "no connection",
			opts:    Options{Output: "yaml"},
			wantErr: "either --url or --from-secret is required",
		},
		{
			name:    "missing username",
			opts:    Options{URL: "http://h", Password: "pw", Output: "yaml"},
			wantErr: "--username is required",
		},
		{
			name:    "missing password",
			opts:    Options{URL: "http://h", Username: "admin", Output: "yaml"},
			wantErr: "--password is required",
		},
		{
			name: "password from env",
			opts: Options{URL: "http://h", Username: "admin", Output: "yaml"},
			env:  "from-env",
		},
		{
			name:    "bad secret reference",
			opts:    Options{FromSecret: "only-name", Output: "yaml"},
			wantErr: "--from-secret must be namespace/name",
		},
		{
			name: "secret mode needs no url",
			opts: Options{FromSecret: "keycloak/admin", Output: "json"},
		},
		{
			name:    "negative rate limit",
			opts:    Options{URL: "http://h", Username: "admin", Password: "pw", RateLimit: -1, Output: "yaml"},
			wantErr: "--rate-limit",
		},
		{
			name:    "unknown output",
			opts:    Options{URL: "http://h", Username: "admin", Password: "pw", Output: "xml"},
			wantErr: "unsupported output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(PasswordEnv, tt.env)
			opts := tt.opts

			err := opts.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.env != "" {
				assert.Equal(t, tt.env, opts.Password)
			}
		})
	}
}

func credentialsSecret(data map[string]string) *corev1.Secret {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "admin", Namespace: "keycloak"},
		Data:       map[string][]byte{},
	}
	for k, v := range data {
		secret.Data[k] = []byte(v)
	}
	return secret
}

func TestLoadFromSecret(t *testing.T) {
	k8sClient := fake.NewClientBuilder().WithObjects(credentialsSecret(map[string]string{
		"url":      "http://keycloak:8080",
		"username": "admin",
		"password": "from-secret",
	})).Build()

	opts := Options{FromSecret: "keycloak/admin", URLKey: "url", UsernameKey: "username", PasswordKey: "password"}
	cfg := &keycloak.Config{}
	require.NoError(t, opts.loadFromSecret(context.Background(), k8sClient, cfg))

	assert.Equal(t, "http://keycloak:8080", cfg.BaseURL)
	assert.Equal(t, "admin", cfg.Username)
	assert.Equal(t, "from-secret", cfg.Password)
}

func TestLoadFromSecret_FlagsWin(t *testing.T) {
	k8sClient := fake.NewClientBuilder().WithObjects(credentialsSecret(map[string]string{
		"user": "admin",
		"pass": "from-secret",
	})).Build()

	opts := Options{FromSecret: "keycloak/admin", URLKey: "url", UsernameKey: "user", PasswordKey: "pass"}
	cfg := &keycloak.Config{BaseURL: "http://localhost:8642", Password: "from-flag"}
	require.NoError(t, opts.loadFromSecret(context.Background(), k8sClient, cfg))

	assert.Equal(t, "http://localhost:8642", cfg.BaseURL)
	assert.Equal(t, "admin", cfg.Username)
	assert.Equal(t, "from-flag", cfg.Password)
}

func TestLoadFromSecret_Errors(t *testing.T) {
	opts := Options{FromSecret: "keycloak/admin", URLKey: "url", UsernameKey: "username", PasswordKey: "password"}

	err := opts.loadFromSecret(context.Background(), fake.NewClientBuilder().Build(), &keycloak.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get credentials secret keycloak/admin")

	k8sClient := fake.NewClientBuilder().WithObjects(credentialsSecret(map[string]string{
		"username": "admin",
		"password": "pw",
	})).Build()
	err = opts.loadFromSecret(context.Background(), k8sClient, &keycloak.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `key "url" not found`)

	k8sClient = fake.NewClientBuilder().WithObjects(credentialsSecret(map[string]string{
		"url": "http://keycloak:8080",
	})).Build()
	err = opts.loadFromSecret(context.Background(), k8sClient, &keycloak.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing username or password")
}
