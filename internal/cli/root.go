// Package cli implements the shipgate command line.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/internal/kube"
)

// DefaultPlanFile is read when neither --plan nor SHIPGATE_PLAN is set.
const DefaultPlanFile = "shipgate.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	PlanFile    string
	Kubeconfig  string
	KubeContext string

	ArgoServer   string
	ArgoToken    string
	ArgoUsername string
	ArgoPassword string
	ArgoInsecure bool

	MetricsTextfile string

	Zap zap.Options
}

// NewRootCommand creates the root command for the shipgate CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Zap: zap.Options{Development: true}}

	cmd := &cobra.Command{
		Use:   "shipgate",
		Short: "Convergent deployment orchestrator with a post-deployment gate",
		Long: `shipgate provisions a local cluster, installs Argo CD, registers an
Application and drives it to a verdict. The verification hook decides whether
the deployment succeeded.

Exit codes: 0 success, 1 fatal, 2 timeout, 3 gate failure.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logf.SetLogger(zap.New(zap.UseFlagOptions(&opts.Zap), zap.WriteTo(cmd.ErrOrStderr())))
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.PlanFile, "plan", "f", envOr("SHIPGATE_PLAN", DefaultPlanFile), "deploy plan file")
	pf.StringVar(&opts.Kubeconfig, "kubeconfig", os.Getenv("KUBECONFIG"), "kubeconfig path")
	pf.StringVar(&opts.KubeContext, "kube-context", "", "kubeconfig context (defaults to the runtime profile, then current-context)")
	pf.StringVar(&opts.ArgoServer, "argocd-server", os.Getenv("ARGOCD_SERVER"), "Argo CD API server address")
	pf.StringVar(&opts.ArgoToken, "argocd-token", os.Getenv("ARGOCD_AUTH_TOKEN"), "Argo CD bearer token")
	pf.StringVar(&opts.ArgoUsername, "argocd-username", os.Getenv("ARGOCD_USERNAME"), "Argo CD username, used when no token is set")
	pf.StringVar(&opts.ArgoPassword, "argocd-password", os.Getenv("ARGOCD_PASSWORD"), "Argo CD password")
	pf.BoolVar(&opts.ArgoInsecure, "argocd-insecure", boolEnv("ARGOCD_INSECURE"), "skip Argo CD TLS verification")
	pf.StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "write run metrics to this node-exporter textfile")

	zapFlags := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.Zap.BindFlags(zapFlags)
	pf.AddGoFlagSet(zapFlags)

	// Add subcommands
	cmd.AddCommand(NewDeployCommand(opts))
	cmd.AddCommand(NewProvisionCommand(opts))
	cmd.AddCommand(NewInstallCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRenderHooksCommand(opts))

	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context, args []string) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.reported {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	return failure.ExitCode(failure.KindOf(err))
}

// exitError carries the exit code of a command. reported is set when the
// command already printed the failure.
type exitError struct {
	code     int
	err      error
	reported bool
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func (o *RootOptions) loadPlan() (*v1alpha1.DeployPlan, error) {
	plan, err := v1alpha1.LoadPlan(o.PlanFile)
	if err != nil {
		return nil, failure.Fatal("Plan", "PlanInvalid", err).
			WithAttempt("load plan %s", o.PlanFile).
			WithRemediation("fix the plan file or pass --plan")
	}
	return plan, nil
}

// target returns the cluster to act on. Without --kube-context a plan that
// declares a runtime targets the profile's context.
func (o *RootOptions) target(plan *v1alpha1.DeployPlan) kube.Target {
	t := kube.Target{Kubeconfig: o.Kubeconfig, Context: o.KubeContext}
	if t.Context == "" && plan != nil && plan.Spec.Runtime != nil {
		t.Context = plan.Spec.Runtime.Profile
	}
	return t
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolEnv(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
