// Package nanny provides the keycloak-nanny command line interface.
package nanny

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/sets"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/Hostzero-GmbH/keycloak-nanny/internal/keycloak"
	"github.com/Hostzero-GmbH/keycloak-nanny/internal/metrics"
	"github.com/Hostzero-GmbH/keycloak-nanny/internal/output"
)

type app struct {
	opts    Options
	zapOpts zap.Options

	log      logr.Logger
	client   *keycloak.Client
	writer   *output.Writer
	registry *prometheus.Registry
}

// NewRootCommand creates the keycloak-nanny command tree
func NewRootCommand() *cobra.Command {
	a := &app{
		zapOpts: zap.Options{Development: true},
	}

	cmd := &cobra.Command{
		Use:   "keycloak-nanny",
		Short: "Create Keycloak realms, clients and users through the admin REST API",
		Long: `keycloak-nanny talks to the Keycloak admin REST API to create throwaway
realms, clients and users, e.g. for tests against a local instance:

  docker run --rm -p 8642:8080 \
    -e KEYCLOAK_ADMIN=admin -e KEYCLOAK_ADMIN_PASSWORD=admin \
    quay.io/keycloak/keycloak:21.0.2 start-dev

  keycloak-nanny demo --url http://localhost:8642 --username admin --password admin`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsKeycloak(cmd) {
				return nil
			}
			return a.setup(cmd.Context(), cmd.OutOrStdout())
		},
	}

	a.opts.BindFlags(cmd.PersistentFlags())
	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	a.zapOpts.BindFlags(zapFlags)
	cmd.PersistentFlags().AddGoFlagSet(zapFlags)

	cmd.AddCommand(
		a.realmsCommand(),
		a.createCommand(),
		a.whoamiCommand(),
		a.demoCommand(),
	)
	return cmd
}

func (a *app) setup(ctx context.Context, out io.Writer) error {
	a.log = zap.New(zap.UseFlagOptions(&a.zapOpts))

	if err := a.opts.Validate(); err != nil {
		return err
	}

	cfg, err := a.opts.GetKeycloakConfig(ctx, a.log)
	if err != nil {
		return fmt.Errorf("failed to get Keycloak configuration: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	requestMetrics, err := metrics.NewObserver(a.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	a.client = keycloak.NewClient(*cfg,
		keycloak.WithLogger(a.log),
		keycloak.WithObserver(keycloak.Observers(keycloak.NewLogObserver(a.log), requestMetrics)),
	)
	a.writer = output.NewWriter(output.WriterOptions{
		Format:    a.opts.Output,
		OutputDir: a.opts.OutputDir,
		Out:       out,
	})
	return nil
}

// needsKeycloak reports whether cmd talks to Keycloak. Shell completion and
// help work without connection flags.
func needsKeycloak(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "completion", "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

// run wraps a command body so the metrics textfile is written on failure too.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if metricsErr := a.writeMetrics(); metricsErr != nil {
			return errors.Join(err, metricsErr)
		}
		return err
	}
}

func (a *app) writeMetrics() error {
	if a.opts.MetricsTextfile == "" || a.registry == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.opts.MetricsTextfile, a.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func (a *app) realmsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "realms",
		Short: "List realm names",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			realms, err := a.client.GetRealms(cmd.Context())
			if err != nil {
				return err
			}
			return a.writer.Write(sets.List(realms))
		}),
	}
}

func (a *app) createCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a realm, client or user",
	}
	cmd.AddCommand(a.createRealmCommand(), a.createClientCommand(), a.createUserCommand())
	return cmd
}

func (a *app) createRealmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "realm [name]",
		Short: "Create an enabled realm (random name when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			realm, err := a.client.CreateRealm(cmd.Context(), firstArg(args))
			if err != nil {
				return err
			}
			return a.writer.WriteResources(realm)
		}),
	}
}

func (a *app) createClientCommand() *cobra.Command {
	opts := keycloak.DefaultClientOptions()
	var standardFlow, serviceAccount, passwordFlow, deviceFlow bool
	cmd := &cobra.Command{
		Use:   "client [client-id]",
		Short: "Create an OpenID Connect client in the default realm (random client id when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			opts.ClientID = firstArg(args)
			opts.DisableStandardFlow = !standardFlow
			opts.DisableServiceAccount = !serviceAccount
			opts.DisablePasswordFlow = !passwordFlow
			opts.DisableDeviceFlow = !deviceFlow
			client, err := a.client.CreateClient(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.writer.WriteResources(client)
		}),
	}

	fs := cmd.Flags()
	fs.StringVar(&opts.ClientIDPrefix, "client-id-prefix", opts.ClientIDPrefix, "Prefix of generated client ids")
	fs.BoolVar(&opts.Public, "public", opts.Public, "Create a public client (no secret)")
	fs.BoolVar(&standardFlow, "standard-flow", true, "Enable the authorization code flow")
	fs.BoolVar(&serviceAccount, "service-account", true, "Enable the client credentials grant")
	fs.BoolVar(&passwordFlow, "password-flow", true, "Enable direct access grants")
	fs.BoolVar(&deviceFlow, "device-flow", true, "Enable the device authorization grant")
	return cmd
}

func (a *app) createUserCommand() *cobra.Command {
	var opts keycloak.UserOptions
	cmd := &cobra.Command{
		Use:   "user [username]",
		Short: "Create an enabled user in the default realm (random username and password when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			opts.Username = firstArg(args)
			user, err := a.client.CreateUser(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return a.writer.WriteResources(user)
		}),
	}

	fs := cmd.Flags()
	fs.StringVar(&opts.UsernamePrefix, "username-prefix", "user-", "Prefix of generated usernames")
	fs.StringVar(&opts.Password, "user-password", "", "Password of the new user (random when empty)")
	return cmd
}

// whoamiInfo is what whoami prints. The token itself is never shown.
type whoamiInfo struct {
	Server        string    `json:"server"`
	AdminRealm    string    `json:"adminRealm"`
	Username      string    `json:"username"`
	ClientID      string    `json:"clientId,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	AccessExpiry  time.Time `json:"accessExpiry"`
	RefreshExpiry time.Time `json:"refreshExpiry"`
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Log in and show who the admin token belongs to",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			if err := a.client.Ping(cmd.Context()); err != nil {
				return err
			}

			state := a.client.Tokens().State()
			creds := a.client.Credentials()
			info := whoamiInfo{
				Server:        creds.ServerURL,
				AdminRealm:    creds.AdminRealm,
				Username:      creds.Username,
				AccessExpiry:  state.AccessExpiry.UTC(),
				RefreshExpiry: state.RefreshExpiry.UTC(),
			}

			claims, err := keycloak.ParseClaims(state.AccessToken())
			if err != nil {
				a.log.V(1).Info("Access token is not a JWT", "error", err.Error())
			} else {
				info.Subject, _ = claims.GetSubject()
				info.ClientID, _ = claims["azp"].(string)
				if name, ok := claims["preferred_username"].(string); ok {
					info.Username = name
				}
			}

			return a.writer.Write(info)
		}),
	}
}

func (a *app) demoCommand() *cobra.Command {
	var cleanup bool
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Create a random realm, make it the default and add a client and a user to it",
		Args:  cobra.NoArgs,
		RunE: a.run(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			realm, err := a.client.CreateRealm(ctx, "")
			if err != nil {
				return err
			}
			if err := a.client.SetDefaultRealm(ctx, realm.Name); err != nil {
				return err
			}

			client, err := a.client.CreateClient(ctx, keycloak.DefaultClientOptions())
			if err != nil {
				return err
			}

			user, err := a.client.CreateUser(ctx, keycloak.UserOptions{})
			if err != nil {
				return err
			}

			if err := a.writer.WriteResources(realm, client, user); err != nil {
				return err
			}

			if cleanup {
				return a.client.DeleteRealm(ctx, realm.Name)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "Delete the created realm again")
	return cmd
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
