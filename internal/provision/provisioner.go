// Package provision ensures a local runtime cluster (a minikube profile) is up.
package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	"github.com/ia-eknorr/shipgate/internal/command"
	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/pkg/conditions"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

const (
	component = "RuntimeProvisioner"
	tool      = "minikube"

	stateRunning = "Running"
)

// Status is the typed form of `minikube status -o json`.
type Status struct {
	Name       string `json:"Name"`
	Host       string `json:"Host"`
	Kubelet    string `json:"Kubelet"`
	APIServer  string `json:"APIServer"`
	Kubeconfig string `json:"Kubeconfig"`
}

// FullyRunning reports whether host, node agent and API server are all up.
func (s Status) FullyRunning() bool {
	return s.Host == stateRunning && s.Kubelet == stateRunning && s.APIServer == stateRunning
}

func (s Status) String() string {
	return fmt.Sprintf("host=%s kubelet=%s apiserver=%s", orUnknown(s.Host), orUnknown(s.Kubelet), orUnknown(s.APIServer))
}

func orUnknown(v string) string {
	if v == "" {
		return "Unknown"
	}
	return v
}

// Provisioner drives the minikube CLI.
type Provisioner struct {
	Runner command.Runner
}

// EnsureRunning starts the profile if it is not fully running, enables every
// requested feature toggle, and returns the kube context for the profile.
func (p *Provisioner) EnsureRunning(ctx context.Context, spec v1alpha1.RuntimeSpec) (shiptypes.RuntimeState, error) {
	log := logf.FromContext(ctx).WithName("provision").WithValues("profile", spec.Profile)
	state := shiptypes.RuntimeState{Profile: spec.Profile, KubeContext: spec.Profile}

	if _, err := p.Runner.LookPath(tool); err != nil {
		return state, failure.Fatal(component, conditions.ReasonToolMissing, err).
			WithAttempt("locate %s", tool).
			WithObserved("%s is not on PATH", tool).
			WithRemediation("install minikube (https://minikube.sigs.k8s.io/docs/start/) and re-run")
	}

	status := p.Status(ctx, spec.Profile)
	log.Info("runtime status", "status", status.String())

	if !status.FullyRunning() {
		args := append([]string{"start", "-p", spec.Profile}, strings.Fields(spec.StartArgs)...)
		log.Info("starting runtime", "args", strings.Join(args[1:], " "))
		res, err := p.Runner.Run(ctx, tool, args...)
		if err != nil {
			return state, failure.Fatal(component, conditions.ReasonRuntimeStartFailed, err).
				WithAttempt("%s", res.CommandLine()).
				WithObserved("runtime did not start (%s)", status.String()).
				WithRemediation("inspect `minikube logs -p %s`; delete the profile with `minikube delete -p %s` if it is corrupt", spec.Profile, spec.Profile)
		}
		state.Started = true
	}

	for _, feature := range spec.Features {
		res, err := p.Runner.Run(ctx, tool, "addons", "enable", feature, "-p", spec.Profile)
		if err != nil {
			return state, failure.Fatal(component, conditions.ReasonFeatureEnableFailed, err).
				WithAttempt("%s", res.CommandLine()).
				WithObserved("feature %q could not be enabled", feature).
				WithRemediation("check the toggle name with `minikube addons list -p %s`", spec.Profile)
		}
		state.FeaturesEnabled = append(state.FeaturesEnabled, feature)
	}

	log.Info("runtime ready", "kubeContext", state.KubeContext, "started", state.Started, "features", state.FeaturesEnabled)
	return state, nil
}

// Status queries the profile. A profile that does not exist, or output that
// cannot be decoded, is reported as not running.
func (p *Provisioner) Status(ctx context.Context, profile string) Status {
	log := logf.FromContext(ctx).WithName("provision")

	// minikube exits non-zero whenever a component is stopped but still prints JSON.
	res, err := p.Runner.Run(ctx, tool, "status", "-p", profile, "-o", "json")
	var st Status
	if decodeErr := json.Unmarshal([]byte(res.Output), &st); decodeErr != nil {
		log.V(1).Info("runtime status not decodable, treating as stopped", "error", err, "output", res.Output)
		return Status{Name: profile}
	}
	return st
}
