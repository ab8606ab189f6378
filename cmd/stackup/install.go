// install.go wires configuration, swarm preparation, the control-plane
// client and the orchestrator into the `stackup install` command.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/example/stackup/internal/catalog"
	"github.com/example/stackup/internal/config"
	"github.com/example/stackup/internal/credfile"
	"github.com/example/stackup/internal/hooks"
	"github.com/example/stackup/internal/logging"
	"github.com/example/stackup/internal/portainer"
	"github.com/example/stackup/internal/rollout"
	"github.com/example/stackup/internal/state"
	"github.com/example/stackup/internal/swarm"
	"github.com/example/stackup/internal/vars"
)

func newInstallCommand() *cobra.Command {
	opts := config.NewOptions()
	cmd := &cobra.Command{
		Use:           "install",
		Short:         "Provision the full application stack on this swarm",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), opts)
		},
	}
	opts.BindFlags(cmd.Flags())
	return cmd
}

func runInstall(ctx context.Context, opts *config.Options) error {
	if err := opts.PromptMissing(); err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(opts.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	if err := catalog.Validate(); err != nil {
		return err
	}

	vs := vars.NewSet()
	if err := opts.CollectInto(vs); err != nil {
		return err
	}
	if err := vs.GenerateSecrets(); err != nil {
		return err
	}
	if err := vs.DeriveAliases(); err != nil {
		return err
	}

	exec := swarm.NewExecutor(log)
	if !opts.SkipPrepare {
		color.Cyan("Preparing swarm resources...")
		if err := exec.Prepare(ctx); err != nil {
			return err
		}
	}

	store, err := state.Open(opts.StateFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	runID := fmt.Sprintf("run-%d", time.Now().Unix())
	if err := store.BeginRun(ctx, runID, time.Now()); err != nil {
		return err
	}

	adminPass, _ := vs.Get(vars.PortainerAdminPass)
	client := portainer.New(portainer.Options{
		BaseURL:       opts.PortainerURL,
		AdminUser:     "admin",
		AdminPassword: adminPass,
		Logger:        log,
	})

	orch, err := rollout.New(rollout.Options{
		Units:        rollout.UnitsFromCatalog(),
		Vars:         vs,
		ControlPlane: client,
		Primary:      &rollout.PortainerDeployer{Client: client},
		Fallback:     &rollout.SwarmDeployer{Exec: exec},
		Hooks:        hooks.NewRunner(exec, vs, opts.S3Endpoint, swarm.PublicNetwork, log),
		Events:       &storeEvents{store: store, runID: runID},
		Log:          log,
		ReadyBudget:  opts.ReadyBudget,
		HealthBudget: opts.HealthBudget,
		PersistCredentials: func(records []vars.CredentialRecord) error {
			return credfile.Write(opts.CredentialFile, records, time.Now())
		},
	})
	if err != nil {
		return err
	}

	color.Cyan("Rolling out stacks...")
	summary, runErr := orch.Run(ctx)

	outcome := string(summary.Phase)
	if err := store.FinishRun(context.WithoutCancel(ctx), runID, outcome, time.Now()); err != nil {
		log.Warnw("record run outcome", "error", err)
	}

	printSummary(summary, opts, vs)
	return runErr
}

// storeEvents adapts the sqlite store to the orchestrator's event sink.
type storeEvents struct {
	store *state.Store
	runID string
}

func (s *storeEvents) UnitEvent(ctx context.Context, unit string, st rollout.UnitState, detail string) {
	_ = s.store.RecordUnitEvent(ctx, s.runID, unit, string(st), detail, time.Now())
}

func (s *storeEvents) PhaseEvent(ctx context.Context, phase rollout.Phase) {
	_ = s.store.RecordUnitEvent(ctx, s.runID, "-", string(phase), "", time.Now())
}

func printSummary(summary *rollout.Summary, opts *config.Options, vs *vars.Set) {
	bold := color.New(color.Bold)
	good := color.New(color.FgGreen)
	warn := color.New(color.FgYellow)
	bad := color.New(color.FgRed)

	fmt.Println()
	bold.Println("Deployment summary")
	for _, r := range summary.Results {
		line := fmt.Sprintf("  %-16s %-16s %s", r.Unit, r.State, r.Path)
		switch r.State {
		case rollout.StateHealthy:
			good.Println(line)
		case rollout.StateDegraded:
			warn.Println(line)
		default:
			bad.Println(line)
		}
		if r.Err != nil {
			bad.Printf("    error: %v\n", r.Err)
		}
		if r.HookErr != nil {
			warn.Printf("    hook: %v\n", r.HookErr)
		}
	}
	if !summary.ControlPlaneUp {
		warn.Println("  control plane unavailable: all stacks deployed via docker CLI")
	}

	if summary.Phase != rollout.PhaseDone {
		return
	}
	domain, _ := vs.Get(vars.Domain)
	fmt.Println()
	bold.Println("Service URLs")
	for _, svc := range []struct{ name, host string }{
		{"Portainer", "manager." + domain},
		{"Chatwoot", "crm." + domain},
		{"n8n Editor", "automacao." + domain},
		{"n8n Webhook", "eventos." + domain},
		{"MinIO Console", "s3console." + domain},
		{"MinIO API", "s3storage." + domain},
	} {
		fmt.Printf("  %-14s https://%s\n", svc.name, svc.host)
	}
	fmt.Println()
	good.Printf("Credentials written to %s (mode 0600). Store them safely.\n", opts.CredentialFile)
	fmt.Fprintln(os.Stdout)
}

var _ rollout.EventSink = (*storeEvents)(nil)
