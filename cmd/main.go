package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	// Import all Kubernetes client auth plugins
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/Hostzero-GmbH/keycloak-nanny/cmd/nanny"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := nanny.NewRootCommand()
	// Picks up --kubeconfig registered by controller-runtime.
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	if err := root.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
