// main.go bootstraps stackup: it builds the root Cobra command, binds
// environment overrides, and executes with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/stackup/internal/rollout"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stackup",
		Short:         "One-shot provisioning of a Docker Swarm application stack",
		Long:          "stackup deploys Traefik, Portainer, Redis, Postgres, RabbitMQ, MinIO, n8n and Chatwoot onto a single-host Docker Swarm, wiring generated credentials between the services.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	installCmd := newInstallCommand()
	renderCmd := newRenderCommand()
	runsCmd := newRunsCommand()
	cmd.AddCommand(
		installCmd,
		renderCmd,
		runsCmd,
		newVersionCommand(),
	)
	cmd.Example = `  # Provision the full stack for example.com
  stackup install --domain example.com --acme-email ops@example.com \
    --smtp-host smtp.example.com --smtp-user mailer@example.com

  # Preview a rendered stack file without deploying
  stackup render chatwoot --domain example.com

  # Show previous provisioning runs
  stackup runs`
	bindViper(cmd, installCmd, renderCmd, runsCmd)
	return cmd
}

// bindViper lets every flag be set through STACKUP_* environment
// variables without overriding values given explicitly on the command
// line.
func bindViper(commands ...*cobra.Command) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("STACKUP")
	v.AutomaticEnv()

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		for _, cmd := range commands {
			cmd.Flags().VisitAll(func(f *pflag.Flag) {
				if f.Changed {
					return
				}
				if !v.IsSet(f.Name) {
					return
				}
				val := fmt.Sprintf("%v", v.Get(f.Name))
				if val != "" {
					_ = f.Value.Set(val)
				}
			})
		}
	})
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	message := err.Error()
	var abortErr *rollout.HardDependencyAbortError
	switch {
	case errors.As(err, &abortErr):
		message = fmt.Sprintf("%s\nHint: inspect the failed stack with 'docker stack ps %s' and re-run the install; completed stacks are updated in place.", err, abortErr.Unit)
	case errors.Is(err, context.Canceled):
		message = "interrupted"
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
}
