// render.go previews rendered stack files without deploying anything.
package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/stackup/internal/catalog"
	"github.com/example/stackup/internal/config"
	"github.com/example/stackup/internal/vars"
)

func newRenderCommand() *cobra.Command {
	opts := config.NewOptions()
	var showSecrets bool
	cmd := &cobra.Command{
		Use:           "render [STACK]",
		Short:         "Render stack files with the variable set, for inspection",
		Long:          "Renders one stack (or all of them) exactly as install would, using placeholder secrets unless --show-secrets generates real ones. Nothing is deployed.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runRender(opts, name, showSecrets)
		},
	}
	opts.BindFlags(cmd.Flags())
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Generate real secrets instead of redacted placeholders")
	return cmd
}

func runRender(opts *config.Options, name string, showSecrets bool) error {
	if err := catalog.Validate(); err != nil {
		return err
	}
	vs := vars.NewSet()
	fillRenderDefaults(opts)
	if err := opts.CollectInto(vs); err != nil {
		return err
	}
	if showSecrets {
		if err := vs.GenerateSecrets(); err != nil {
			return err
		}
	}
	if err := vs.DeriveAliases(); err != nil {
		return err
	}
	values := vs.Snapshot()
	// Keys a render-only invocation cannot know (generated secrets, hook
	// outputs) get stable placeholders so every template still renders.
	for _, k := range vars.Keys() {
		if _, ok := values[string(k)]; !ok {
			values[string(k)] = "<" + string(k) + ">"
		}
	}

	units := catalog.Units()
	if name != "" {
		u, ok := catalog.ByName(name)
		if !ok {
			var known []string
			for _, c := range units {
				known = append(known, c.Name)
			}
			sort.Strings(known)
			return fmt.Errorf("unknown stack %q (known: %s)", name, strings.Join(known, ", "))
		}
		units = []catalog.Unit{u}
	}
	for _, u := range units {
		content, err := u.Render(values)
		if err != nil {
			return err
		}
		fmt.Printf("# ----- %s -----\n%s\n", u.Name, content)
	}
	return nil
}

// fillRenderDefaults substitutes inspection-friendly values for required
// user inputs that were not passed, so render works with zero flags.
func fillRenderDefaults(opts *config.Options) {
	if opts.Domain == "" {
		opts.Domain = "example.com"
	}
	if opts.ACMEEmail == "" {
		opts.ACMEEmail = "ops@" + opts.Domain
	}
	if opts.SMTPHost == "" {
		opts.SMTPHost = "smtp." + opts.Domain
	}
	if opts.SMTPUser == "" {
		opts.SMTPUser = "mailer@" + opts.Domain
	}
	if opts.SMTPPass == "" {
		opts.SMTPPass = "<SMTP_PASS>"
	}
}
