package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ia-eknorr/shipgate/internal/kube"
	"github.com/ia-eknorr/shipgate/internal/orchestrator"
	"github.com/ia-eknorr/shipgate/internal/report"
)

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Provision, install, register and sync in one run",
		Long: `Run every component in order: provision the runtime, install the Argo CD
release, register the Application and drive a sync until the verification
hook reports a verdict. Safe to re-run at any point.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), rootOpts, cmd.OutOrStdout())
		},
	}

	return cmd
}

func runDeploy(ctx context.Context, opts *RootOptions, out io.Writer) error {
	plan, err := opts.loadPlan()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	metrics := orchestrator.NewMetrics()
	driver, err := opts.newDriver(metrics)
	if err != nil {
		return err
	}

	orch := &orchestrator.Orchestrator{
		Provisioner: newProvisioner(),
		Installer:   newInstaller(),
		Registrar:   newRegistrar(runID),
		Syncer:      driver,
		Clients:     kube.NewClient,
		Metrics:     metrics,
		RunID:       runID,
	}

	res := orch.Run(ctx, plan, kube.Target{Kubeconfig: opts.Kubeconfig, Context: opts.KubeContext})
	return finish(ctx, opts, out, res, metrics)
}

// finish prints the report, writes metrics and converts the result to the
// command error.
func finish(ctx context.Context, opts *RootOptions, out io.Writer, res orchestrator.Result, metrics *orchestrator.Metrics) error {
	fmt.Fprint(out, report.Render(res))

	if opts.MetricsTextfile != "" && metrics != nil {
		if err := metrics.WriteTextfile(opts.MetricsTextfile); err != nil {
			logf.FromContext(ctx).Error(err, "failed to write metrics textfile", "path", opts.MetricsTextfile)
		}
	}

	if res.Err != nil {
		return &exitError{code: res.ExitCode(), err: res.Err, reported: true}
	}
	return nil
}
