// Package syncdriver triggers (or confirms) reconciliation of a registered
// application and polls controller status until the sync resolves.
package syncdriver

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"k8s.io/utils/clock"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ia-eknorr/shipgate/internal/argocd"
	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/internal/kube"
	"github.com/ia-eknorr/shipgate/internal/poll"
	"github.com/ia-eknorr/shipgate/pkg/conditions"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

const component = "SyncDriver"

// State is a SyncDriver state.
type State string

const (
	StateIdle          State = "Idle"
	StateAuthChecked   State = "AuthChecked"
	StateSyncTriggered State = "SyncTriggered"
	StatePolling       State = "Polling"
	StateResolved      State = "Resolved"
)

// HookRef is a declared hook the gate expects to observe.
type HookRef struct {
	Name  string
	Phase string
}

// Request parameterizes one sync.
type Request struct {
	Application string
	Namespace   string

	// Target is the cluster the application was registered on. Hook logs are
	// read from it.
	Target kube.Target

	// Trigger requests an explicit sync. When false the controller's own
	// auto-sync is relied upon.
	Trigger  bool
	Prune    bool
	Revision string

	Timeout  time.Duration
	Interval time.Duration

	// GatePhases are the hook phases whose verdict gates success.
	GatePhases []string

	// Hooks are the declared hooks in gated phases; each must be observed
	// with a Pass verdict.
	Hooks []HookRef
}

// HookLogFetcher returns the pod logs of a hook Job on target.
type HookLogFetcher interface {
	Fetch(ctx context.Context, target kube.Target, namespace, jobName string) (string, error)
}

// Driver runs the sync state machine.
type Driver struct {
	Client argocd.Client

	// Logs is optional; when set, failed hook Job logs are attached to diagnostics.
	Logs HookLogFetcher

	// Clock defaults to the real clock.
	Clock clock.Clock

	// HistoryLimit bounds the history entries in diagnostics. Defaults to 5.
	HistoryLimit int

	// OnPoll is called once per status probe.
	OnPoll func()
}

func (d *Driver) clock() clock.Clock {
	if d.Clock == nil {
		return clock.RealClock{}
	}
	return d.Clock
}

// run carries the per-invocation state of one Sync call.
type run struct {
	req Request
	op  *shiptypes.SyncOperation

	// baseline is the operation observed before triggering. An operation with
	// the same start time is the previous one and is not evaluated.
	baseline *argocd.OperationState
	inFlight bool

	last    *argocd.Application
	lastErr error
}

func (r *run) enter(s State) {
	r.op.Transitions = append(r.op.Transitions, string(s))
}

// Sync drives one reconciliation to a terminal outcome. The returned
// operation is non-nil whenever the auth check passed. The error is nil only
// for a Succeeded outcome; otherwise it is a failure.Error whose kind is
// GateFailure (a gated hook failed), Fatal (auth, trigger or the sync
// operation itself failed) or Timeout.
func (d *Driver) Sync(ctx context.Context, req Request) (*shiptypes.SyncOperation, error) {
	log := logf.FromContext(ctx).WithName("sync").WithValues("application", req.Application)
	clk := d.clock()

	if len(req.GatePhases) == 0 {
		req.GatePhases = []string{string(shiptypes.HookPhasePostSync)}
	}

	r := &run{
		req: req,
		op:  &shiptypes.SyncOperation{Application: req.Application},
	}
	r.enter(StateIdle)

	info, err := d.Client.UserInfo(ctx)
	if err != nil {
		return nil, failure.Fatal(component, conditions.ReasonAuthFailed, err).
			WithAttempt("check identity against the GitOps controller").
			WithObserved("identity check failed").
			WithRemediation("re-authenticate: export ARGOCD_AUTH_TOKEN (argocd account generate-token) or set ARGOCD_USERNAME/ARGOCD_PASSWORD")
	}
	r.enter(StateAuthChecked)
	log.V(1).Info("authenticated", "username", info.Username)

	if err := d.captureBaseline(ctx, r); err != nil {
		return r.op, err
	}

	r.op.TriggeredAt = clk.Now()
	if req.Trigger {
		if err := d.trigger(ctx, r); err != nil {
			return r.op, err
		}
	} else {
		log.Info("explicit sync disabled, relying on controller auto-sync")
	}
	r.enter(StateSyncTriggered)

	r.enter(StatePolling)
	poller := poll.Poller{Interval: req.Interval, Timeout: req.Timeout, Clock: clk}
	var verdict *evaluation
	err = poller.Until(ctx, func(ctx context.Context) (bool, error) {
		if d.OnPoll != nil {
			d.OnPoll()
		}
		app, err := d.Client.GetApplication(ctx, req.Application, req.Namespace)
		if err != nil {
			if errors.Is(err, argocd.ErrUnauthorized) {
				return false, err
			}
			log.Info("status poll failed, retrying", "error", err.Error())
			r.lastErr = err
			return false, nil
		}
		r.last = &app

		ev := r.evaluate(app)
		r.op.SyncStatus = app.Sync
		r.op.HealthStatus = app.Health
		r.op.Hooks = ev.hooks
		if ev.revision != "" {
			r.op.Revision = ev.revision
		}
		log.V(1).Info("status", "sync", app.Sync, "health", app.Health, "operation", ev.phase, "pending", ev.pending)
		if ev.outcome == "" {
			return false, nil
		}
		verdict = &ev
		return true, nil
	})

	r.op.ResolvedAt = clk.Now()
	r.enter(StateResolved)

	switch {
	case err == nil && verdict.outcome == shiptypes.SyncOutcomeSucceeded:
		r.op.Outcome = shiptypes.SyncOutcomeSucceeded
		log.Info("sync succeeded", "revision", r.op.Revision, "duration", r.op.ResolvedAt.Sub(r.op.TriggeredAt))
		return r.op, nil

	case err == nil:
		r.op.Outcome = shiptypes.SyncOutcomeFailed
		r.op.Diagnostics = d.diagnose(ctx, r)
		log.Info("sync failed", "reason", verdict.reason, "failedHooks", len(r.op.FailedHooks()))
		return r.op, d.failedError(r, verdict)

	case errors.Is(err, poll.ErrTimeout):
		r.op.Outcome = shiptypes.SyncOutcomeTimedOut
		r.op.Diagnostics = d.diagnose(ctx, r)
		log.Info("sync timed out", "timeout", req.Timeout, "sync", r.op.SyncStatus, "health", r.op.HealthStatus)
		return r.op, failure.Timeout(component, conditions.ReasonSyncTimedOut, err).
			WithAttempt("wait for %s to reach Synced/Healthy with gated hooks passing", req.Application).
			WithObserved("after %s: sync=%s health=%s %s", req.Timeout, orUnknown(r.op.SyncStatus), orUnknown(r.op.HealthStatus), pendingSummary(r)).
			WithRemediation("re-run `shipgate sync` (safe to repeat) or raise spec.sync.timeoutSeconds; inspect `argocd app get %s`", req.Application)

	default:
		r.op.Outcome = shiptypes.SyncOutcomeFailed
		r.lastErr = err
		r.op.Diagnostics = d.diagnose(ctx, r)
		reason := conditions.ReasonSyncFailed
		remediation := fmt.Sprintf("inspect `argocd app get %s`", req.Application)
		if errors.Is(err, argocd.ErrUnauthorized) {
			reason = conditions.ReasonAuthFailed
			remediation = "re-authenticate: the controller session was rejected mid-sync"
		}
		return r.op, failure.Fatal(component, reason, err).
			WithAttempt("poll status of %s", req.Application).
			WithRemediation("%s", remediation)
	}
}

// captureBaseline records the operation present before triggering so its
// (stale) hook results are not attributed to the new sync.
func (d *Driver) captureBaseline(ctx context.Context, r *run) error {
	app, err := d.Client.GetApplication(ctx, r.req.Application, r.req.Namespace)
	switch {
	case err == nil:
		r.baseline = app.Operation
		return nil
	case errors.Is(err, argocd.ErrNotFound):
		return failure.Fatal(component, conditions.ReasonAppNotFound, err).
			WithAttempt("read application %s/%s", r.req.Namespace, r.req.Application).
			WithObserved("the controller does not know the application").
			WithRemediation("run `shipgate register` first")
	case errors.Is(err, argocd.ErrUnauthorized):
		return failure.Fatal(component, conditions.ReasonAuthFailed, err).
			WithAttempt("read application %s/%s", r.req.Namespace, r.req.Application).
			WithRemediation("re-authenticate; the token may lack applications,get on this project")
	default:
		logf.FromContext(ctx).WithName("sync").Info("could not read application before sync", "error", err.Error())
		r.lastErr = err
		return nil
	}
}

func (d *Driver) trigger(ctx context.Context, r *run) error {
	log := logf.FromContext(ctx).WithName("sync")
	err := d.Client.SyncApplication(ctx, r.req.Application, r.req.Namespace, argocd.SyncOptions{
		Revision: r.req.Revision,
		Prune:    r.req.Prune,
	})
	switch {
	case err == nil:
		log.Info("sync triggered", "prune", r.req.Prune)
		return nil
	case errors.Is(err, argocd.ErrOperationInProgress):
		log.Info("operation already in progress, following it")
		r.inFlight = true
		return nil
	default:
		reason := conditions.ReasonSyncTriggerFailed
		remediation := "check the application exists and the project permits sync"
		if errors.Is(err, argocd.ErrUnauthorized) {
			reason = conditions.ReasonAuthFailed
			remediation = "re-authenticate with an account that has applications,sync on this project"
		}
		return failure.Fatal(component, reason, err).
			WithAttempt("trigger sync of %s", r.req.Application).
			WithRemediation("%s", remediation)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func pendingSummary(r *run) string {
	var pending []string
	seen := map[string]bool{}
	for _, h := range r.op.Hooks {
		seen[h.Name] = h.Verdict == shiptypes.VerdictPass
		if h.Verdict == shiptypes.VerdictPending {
			pending = append(pending, h.Name)
		}
	}
	for _, h := range r.req.Hooks {
		if _, ok := seen[h.Name]; !ok && !slices.Contains(pending, h.Name) {
			pending = append(pending, h.Name+" (not observed)")
		}
	}
	if len(pending) == 0 {
		return ""
	}
	return fmt.Sprintf("pending hooks=%v", pending)
}
