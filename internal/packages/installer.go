// Package packages installs or upgrades the GitOps controller chart release
// and waits for the API extensions it provides.
package packages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	"github.com/ia-eknorr/shipgate/internal/command"
	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/internal/kube"
	"github.com/ia-eknorr/shipgate/internal/poll"
	"github.com/ia-eknorr/shipgate/pkg/conditions"
)

const (
	component = "PackageInstaller"
	tool      = "helm"

	// processGrace is added to the release timeout for helm's own process deadline.
	processGrace = 30 * time.Second

	crdPollInterval = 2 * time.Second
)

// helm prints one of these when --wait gives up.
var timeoutMarkers = []string{
	"timed out waiting for the condition",
	"context deadline exceeded",
}

// Installer drives the helm CLI and the cluster API.
type Installer struct {
	Runner  command.Runner
	Clients kube.ClientFactory

	// CRDPoller overrides the poller used for the CRD wait; Timeout is taken
	// from the spec when zero.
	CRDPoller poll.Poller
}

type repoEntry struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// InstallOrUpgrade makes the release match spec and returns once the release
// is ready and every required CRD is Established.
func (i *Installer) InstallOrUpgrade(ctx context.Context, target kube.Target, spec v1alpha1.PackageSpec) error {
	log := logf.FromContext(ctx).WithName("install").WithValues("release", spec.ReleaseName, "namespace", spec.Namespace)

	if _, err := i.Runner.LookPath(tool); err != nil {
		return failure.Fatal(component, conditions.ReasonToolMissing, err).
			WithAttempt("locate %s", tool).
			WithObserved("%s is not on PATH", tool).
			WithRemediation("install helm (https://helm.sh/docs/intro/install/) and re-run")
	}

	if err := i.ensureRepository(ctx, spec.Repository); err != nil {
		return err
	}

	valuesFile, cleanup, err := writeValues(spec)
	if err != nil {
		return failure.Fatal(component, conditions.ReasonValuesInvalid, err).
			WithAttempt("render values for release %s", spec.ReleaseName).
			WithRemediation("fix spec.package.values, valuesFiles or set in the plan")
	}
	defer cleanup()

	timeout := time.Duration(spec.TimeoutSeconds) * time.Second
	args := []string{
		"upgrade", "--install", spec.ReleaseName, spec.Repository.Name + "/" + spec.Chart,
		"--namespace", spec.Namespace,
		"--create-namespace",
		"--wait",
		"--timeout", fmt.Sprintf("%ds", spec.TimeoutSeconds),
		"-f", valuesFile,
	}
	if spec.Version != "" {
		args = append(args, "--version", spec.Version)
	}
	args = append(args, targetArgs(target)...)

	log.Info("installing or upgrading release", "chart", spec.Chart, "version", versionOrLatest(spec.Version), "timeout", timeout)
	runCtx, cancel := context.WithTimeout(ctx, timeout+processGrace)
	defer cancel()
	res, err := i.Runner.Run(runCtx, tool, args...)
	if err != nil {
		if isTimeout(res.Output, err) {
			return failure.Timeout(component, conditions.ReasonReleaseTimeout, err).
				WithAttempt("%s", res.CommandLine()).
				WithObserved("release %s not ready within %s", spec.ReleaseName, timeout).
				WithRemediation("re-run (install is idempotent) or raise spec.package.timeoutSeconds; inspect `kubectl get pods -n %s`", spec.Namespace)
		}
		return failure.New(failure.KindCommandFailed, component, conditions.ReasonReleaseFailed, err).
			WithAttempt("%s", res.CommandLine()).
			WithObserved("%s", firstLine(res.Output)).
			WithRemediation("fix the chart reference, values, or cluster permissions; `helm status %s -n %s` shows the release state", spec.ReleaseName, spec.Namespace)
	}
	log.Info("release ready", "duration", res.Duration)

	return i.waitForCRDs(ctx, target, spec)
}

// ensureRepository adds the repository when no entry with the same name
// exists, then always refreshes its index.
func (i *Installer) ensureRepository(ctx context.Context, repo v1alpha1.RepositorySpec) error {
	log := logf.FromContext(ctx).WithName("install")

	res, err := i.Runner.Run(ctx, tool, "repo", "list", "-o", "json")
	var entries []repoEntry
	if err == nil {
		if decodeErr := json.Unmarshal([]byte(res.Output), &entries); decodeErr != nil {
			return failure.New(failure.KindCommandFailed, component, conditions.ReasonRepoUnavailable, decodeErr).
				WithAttempt("%s", res.CommandLine()).
				WithObserved("unparseable repository list")
		}
	} else {
		// helm exits 1 with "no repositories to show" on a fresh install.
		log.V(1).Info("repository list unavailable, assuming none registered", "output", res.Output)
	}

	registered := false
	for _, e := range entries {
		if e.Name == repo.Name {
			registered = true
			if e.URL != repo.URL {
				log.Info("repository registered under a different URL; keeping existing entry", "name", e.Name, "url", e.URL, "wanted", repo.URL)
			}
			break
		}
	}

	if !registered {
		log.Info("adding chart repository", "name", repo.Name, "url", repo.URL)
		if res, err := i.Runner.Run(ctx, tool, "repo", "add", repo.Name, repo.URL); err != nil {
			return repoFailure(res, err, repo)
		}
	}

	if res, err := i.Runner.Run(ctx, tool, "repo", "update", repo.Name); err != nil {
		return repoFailure(res, err, repo)
	}
	return nil
}

func repoFailure(res command.Result, err error, repo v1alpha1.RepositorySpec) error {
	return failure.New(failure.KindCommandFailed, component, conditions.ReasonRepoUnavailable, err).
		WithAttempt("%s", res.CommandLine()).
		WithObserved("repository %s (%s) unavailable: %s", repo.Name, repo.URL, firstLine(res.Output)).
		WithRemediation("check network access to %s and the repository URL in spec.package.repository", repo.URL)
}

// waitForCRDs blocks until every required CRD reports Established=True.
func (i *Installer) waitForCRDs(ctx context.Context, target kube.Target, spec v1alpha1.PackageSpec) error {
	log := logf.FromContext(ctx).WithName("install")
	if len(spec.RequiredCRDs) == 0 {
		return nil
	}

	c, err := i.Clients(target)
	if err != nil {
		return failure.Fatal(component, conditions.ReasonCRDNotEstablished, err).
			WithAttempt("connect to cluster %s", target).
			WithRemediation("check the kubeconfig and context")
	}

	p := i.CRDPoller
	if p.Interval == 0 {
		p.Interval = crdPollInterval
	}
	if p.Timeout == 0 {
		p.Timeout = time.Duration(spec.CRDTimeoutSeconds) * time.Second
	}

	pending := append([]string(nil), spec.RequiredCRDs...)
	err = p.Until(ctx, func(ctx context.Context) (bool, error) {
		var still []string
		for _, name := range pending {
			ok, err := crdEstablished(ctx, c, name)
			if err != nil {
				return false, err
			}
			if !ok {
				still = append(still, name)
			}
		}
		pending = still
		if len(pending) > 0 {
			log.V(1).Info("waiting for CRDs", "pending", pending)
		}
		return len(pending) == 0, nil
	})
	switch {
	case err == nil:
		log.Info("required CRDs established", "crds", spec.RequiredCRDs)
		return nil
	case errors.Is(err, poll.ErrTimeout):
		if len(pending) == 0 {
			// Established, but only observed after the deadline.
			pending = spec.RequiredCRDs
		}
		return failure.Timeout(component, conditions.ReasonCRDNotEstablished, err).
			WithAttempt("wait for CRDs %s to be %s", strings.Join(spec.RequiredCRDs, ", "), conditions.TypeEstablished).
			WithObserved("still pending after %s: %s", p.Timeout, strings.Join(pending, ", ")).
			WithRemediation("re-run; if it persists inspect `kubectl get crd %s -o yaml`", pending[0])
	default:
		return failure.Fatal(component, conditions.ReasonCRDNotEstablished, err).
			WithAttempt("read CRDs %s", strings.Join(spec.RequiredCRDs, ", ")).
			WithRemediation("check that the acting identity can get customresourcedefinitions")
	}
}

// crdEstablished reports whether the named CRD exists with Established=True.
// A missing CRD is not an error: the release may still be registering it.
func crdEstablished(ctx context.Context, c client.Client, name string) (bool, error) {
	crd := &apiextensionsv1.CustomResourceDefinition{}
	if err := c.Get(ctx, client.ObjectKey{Name: name}, crd); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("getting CRD %s: %w", name, err)
	}
	for _, cond := range crd.Status.Conditions {
		if string(cond.Type) == conditions.TypeEstablished {
			return cond.Status == apiextensionsv1.ConditionTrue, nil
		}
	}
	return false, nil
}

func writeValues(spec v1alpha1.PackageSpec) (string, func(), error) {
	data, err := RenderValues(spec)
	if err != nil {
		return "", func() {}, err
	}
	f, err := os.CreateTemp("", "shipgate-values-*.yaml")
	if err != nil {
		return "", func() {}, fmt.Errorf("creating values file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", func() {}, fmt.Errorf("writing values file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, fmt.Errorf("closing values file: %w", err)
	}
	return f.Name(), cleanup, nil
}

func targetArgs(t kube.Target) []string {
	var args []string
	if t.Context != "" {
		args = append(args, "--kube-context", t.Context)
	}
	if t.Kubeconfig != "" {
		args = append(args, "--kubeconfig", t.Kubeconfig)
	}
	return args
}

func isTimeout(output string, err error) bool {
	if errors.Is(err, command.ErrDeadline) {
		return true
	}
	lower := strings.ToLower(output)
	for _, m := range timeoutMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func versionOrLatest(v string) string {
	if v == "" {
		return "latest"
	}
	return v
}
