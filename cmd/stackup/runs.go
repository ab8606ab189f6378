// runs.go lists recorded provisioning runs from the local state database.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/stackup/internal/state"
)

func newRunsCommand() *cobra.Command {
	var stateFile string
	var limit int
	var events string
	cmd := &cobra.Command{
		Use:           "runs",
		Short:         "List previous provisioning runs",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, stateFile, limit, events)
		},
	}
	cmd.Flags().StringVar(&stateFile, "state-file", state.DefaultRelPath, "Path of the sqlite run history database")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&events, "events", "", "Show the unit event log of the given run ID instead")
	return cmd
}

func runRuns(cmd *cobra.Command, stateFile string, limit int, events string) error {
	if _, err := os.Stat(stateFile); err != nil {
		return fmt.Errorf("no run history at %s", stateFile)
	}
	store, err := state.Open(stateFile)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if events != "" {
		evs, err := store.UnitEvents(ctx, events)
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			return fmt.Errorf("no events for run %s", events)
		}
		fmt.Fprintln(w, "AT\tUNIT\tSTATE\tDETAIL")
		for _, ev := range evs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.At.Format(time.RFC3339), ev.Unit, ev.State, ev.Detail)
		}
		return nil
	}

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tOUTCOME")
	for _, r := range runs {
		duration := "-"
		if !r.FinishedAt.IsZero() {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.StartedAt.Format(time.RFC3339), duration, r.Outcome)
	}
	return nil
}
