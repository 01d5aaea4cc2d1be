package cli

import (
	"context"
	"errors"
	"fmt"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ia-eknorr/shipgate/internal/argocd"
	"github.com/ia-eknorr/shipgate/internal/command"
	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/internal/kube"
	"github.com/ia-eknorr/shipgate/internal/manifest"
	"github.com/ia-eknorr/shipgate/internal/orchestrator"
	"github.com/ia-eknorr/shipgate/internal/packages"
	"github.com/ia-eknorr/shipgate/internal/provision"
	"github.com/ia-eknorr/shipgate/internal/syncdriver"
	"github.com/ia-eknorr/shipgate/pkg/conditions"
)

func newProvisioner() *provision.Provisioner {
	return &provision.Provisioner{Runner: &command.ExecRunner{}}
}

func newInstaller() *packages.Installer {
	return &packages.Installer{Runner: &command.ExecRunner{}, Clients: kube.NewClient}
}

func newRegistrar(runID string) *manifest.Registrar {
	return &manifest.Registrar{Clients: kube.NewClient, RunID: runID}
}

func (o *RootOptions) newDriver(metrics *orchestrator.Metrics) (*syncdriver.Driver, error) {
	if o.ArgoServer == "" {
		return nil, failure.Fatal(orchestrator.ComponentSync, conditions.ReasonAuthFailed, errors.New("no Argo CD server configured")).
			WithAttempt("configure the Argo CD API client").
			WithRemediation("set ARGOCD_SERVER or --argocd-server (e.g. `kubectl port-forward svc/argocd-server -n argocd 8080:443` and localhost:8080)")
	}

	c := argocd.NewHTTPClient(o.ArgoServer)
	c.AuthToken = o.ArgoToken
	c.Username = o.ArgoUsername
	c.Password = o.ArgoPassword
	c.Insecure = o.ArgoInsecure
	c.Log = logf.Log.WithName("argocd")

	d := &syncdriver.Driver{
		Client: c,
		Logs:   &lazyHookLogs{},
	}
	if metrics != nil {
		d.OnPoll = metrics.SyncPolls.Inc
	}
	return d, nil
}

// lazyHookLogs builds a clientset per target on first use; logs are only read
// when a hook failed.
type lazyHookLogs struct {
	logs map[kube.Target]*kube.HookLogs
}

func (l *lazyHookLogs) Fetch(ctx context.Context, target kube.Target, namespace, jobName string) (string, error) {
	h, ok := l.logs[target]
	if !ok {
		cs, err := kube.NewClientset(target)
		if err != nil {
			return "", fmt.Errorf("building clientset for hook logs on %s: %w", target, err)
		}
		h = &kube.HookLogs{Clientset: cs}
		if l.logs == nil {
			l.logs = map[kube.Target]*kube.HookLogs{}
		}
		l.logs[target] = h
	}
	return h.Fetch(ctx, namespace, jobName)
}
