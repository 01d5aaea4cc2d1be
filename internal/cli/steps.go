package cli

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	"github.com/ia-eknorr/shipgate/internal/orchestrator"
)

// NewProvisionCommand creates the provision command.
func NewProvisionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Ensure the runtime profile is running with its features enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := rootOpts.loadPlan()
			if err != nil {
				return err
			}
			spec := v1alpha1.RuntimeSpec{Profile: v1alpha1.DefaultProfile}
			if plan.Spec.Runtime != nil {
				spec = *plan.Spec.Runtime
			}

			res := single(plan, orchestrator.ComponentRuntime, func(r *orchestrator.Result) error {
				state, err := newProvisioner().EnsureRunning(cmd.Context(), spec)
				if err == nil {
					r.Runtime = &state
				}
				return err
			})
			return finish(cmd.Context(), rootOpts, cmd.OutOrStdout(), res, nil)
		},
	}
}

// NewInstallCommand creates the install command.
func NewInstallCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install or upgrade the Argo CD release and wait for its CRDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := rootOpts.loadPlan()
			if err != nil {
				return err
			}
			res := single(plan, orchestrator.ComponentPackage, func(*orchestrator.Result) error {
				return newInstaller().InstallOrUpgrade(cmd.Context(), rootOpts.target(plan), plan.Spec.Package)
			})
			return finish(cmd.Context(), rootOpts, cmd.OutOrStdout(), res, nil)
		},
	}
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register",
		Short: "Create or update the Argo CD Application",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := rootOpts.loadPlan()
			if err != nil {
				return err
			}
			res := single(plan, orchestrator.ComponentRegistrar, func(r *orchestrator.Result) error {
				ack, err := newRegistrar(r.RunID).Register(cmd.Context(), rootOpts.target(plan), plan.Spec.Application)
				if err == nil {
					r.Registration = &ack
				}
				return err
			})
			return finish(cmd.Context(), rootOpts, cmd.OutOrStdout(), res, nil)
		},
	}
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	var noTrigger bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Drive the Application to a verdict",
		Long: `Check the Argo CD session, optionally trigger a sync, then poll until the
Application is Synced and Healthy with every gated hook passed, a gated hook
fails, or the deadline elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := rootOpts.loadPlan()
			if err != nil {
				return err
			}
			metrics := orchestrator.NewMetrics()
			driver, err := rootOpts.newDriver(metrics)
			if err != nil {
				return err
			}

			req := orchestrator.NewSyncRequest(plan)
			req.Target = rootOpts.target(plan)
			if noTrigger {
				req.Trigger = false
			}
			res := single(plan, orchestrator.ComponentSync, func(r *orchestrator.Result) error {
				op, err := driver.Sync(cmd.Context(), req)
				r.Sync = op
				return err
			})
			return finish(cmd.Context(), rootOpts, cmd.OutOrStdout(), res, metrics)
		},
	}

	cmd.Flags().BoolVar(&noTrigger, "no-trigger", false, "observe the controller's own sync instead of requesting one")

	return cmd
}

// single runs one component and records it as a one-step result.
func single(plan *v1alpha1.DeployPlan, component string, fn func(*orchestrator.Result) error) orchestrator.Result {
	res := orchestrator.Result{RunID: uuid.NewString(), Application: plan.Spec.Application.Name}
	start := time.Now()
	err := fn(&res)
	res.Steps = append(res.Steps, orchestrator.Step{Component: component, Duration: time.Since(start), Err: err})
	res.Err = err
	return res
}

