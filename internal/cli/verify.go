package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ia-eknorr/shipgate/internal/manifest"
	"github.com/ia-eknorr/shipgate/internal/verify"
)

// NewVerifyCommand creates the verify command, the entrypoint of hook Jobs.
func NewVerifyCommand(_ *RootOptions) *cobra.Command {
	var baseURL string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a deployed workload and exit 0 on Pass, 1 on Fail",
		Long: `Wait for the workload's health endpoint to report ok, send one
representative prediction request and validate the response. Configured from
VERIFY_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := verify.ConfigFromEnv()
			if err != nil {
				return &exitError{code: 1, err: fmt.Errorf("loading verify config: %w", err)}
			}
			if baseURL != "" {
				cfg.BaseURL = baseURL
			}
			cfg.Default()
			if err := cfg.Validate(); err != nil {
				return &exitError{code: 1, err: err}
			}

			v, err := verify.NewVerifier(*cfg)
			if err != nil {
				return &exitError{code: 1, err: err}
			}

			out := cmd.OutOrStdout()
			rep, err := v.Run(cmd.Context())
			if err != nil {
				fmt.Fprintf(out, "FAIL: %v\n", err)
				return &exitError{code: 1, err: err, reported: true}
			}
			fmt.Fprintf(out, "PASS: label=%s probability=%.4f", rep.Prediction.Label, *rep.Prediction.Probability)
			if rep.Metrics {
				fmt.Fprint(out, " metrics=ok")
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "workload base URL (overrides VERIFY_BASE_URL)")

	return cmd
}

// NewRenderHooksCommand creates the render-hooks command.
func NewRenderHooksCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render-hooks",
		Short: "Render the plan's verification hooks as Job manifests",
		Long: `Render every hook with a verify block as a batch/v1 Job carrying the Argo CD
hook annotations. Commit the output next to the application manifests.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := rootOpts.loadPlan()
			if err != nil {
				return err
			}
			data, err := manifest.RenderHooks(plan.Spec.Application)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")

	return cmd
}
