package syncdriver

import (
	"fmt"
	"slices"
	"strings"

	"github.com/ia-eknorr/shipgate/internal/argocd"
	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/pkg/conditions"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

// evaluation is the verdict of one status probe. An empty outcome means the
// sync has not resolved yet.
type evaluation struct {
	outcome  shiptypes.SyncOutcome
	reason   string
	phase    string
	revision string
	hooks    []shiptypes.HookExecution
	pending  []string
}

// hookVerdict maps a controller hook phase to a gate verdict.
func hookVerdict(hookPhase string) shiptypes.Verdict {
	switch hookPhase {
	case argocd.HookPhaseSucceeded:
		return shiptypes.VerdictPass
	case argocd.HookPhaseFailed, argocd.HookPhaseError:
		return shiptypes.VerdictFail
	default:
		return shiptypes.VerdictPending
	}
}

// current returns the operation belonging to this sync, or nil when the
// controller still reports only the operation that preceded the trigger.
func (r *run) current(app argocd.Application) *argocd.OperationState {
	op := app.Operation
	if op == nil {
		return nil
	}
	if !r.req.Trigger || r.inFlight || r.baseline == nil {
		return op
	}
	if op.StartedAt.Equal(r.baseline.StartedAt) && !r.baseline.Running() {
		return nil
	}
	return op
}

// evaluate applies the gate: a failed gated hook resolves Failed immediately
// and is never overridden by later status. Success needs Synced, Healthy, no
// running operation and every declared gated hook observed passing.
func (r *run) evaluate(app argocd.Application) evaluation {
	ev := evaluation{}
	op := r.current(app)

	if op != nil {
		ev.phase = op.Phase
		ev.revision = op.Revision
		execID := op.StartedAt.UTC().Format("20060102T150405Z")
		for _, res := range op.Hooks() {
			if !slices.Contains(r.req.GatePhases, res.HookType) {
				continue
			}
			h := shiptypes.HookExecution{
				Name:        res.Name,
				Kind:        res.Kind,
				Phase:       shiptypes.HookPhase(res.HookType),
				ExecutionID: res.Name + "@" + execID,
				Verdict:     hookVerdict(res.HookPhase),
				Output:      res.Message,
			}
			ev.hooks = append(ev.hooks, h)
			if h.Verdict == shiptypes.VerdictPending {
				ev.pending = append(ev.pending, h.Name)
			}
		}
	}

	for _, h := range ev.hooks {
		if h.Verdict == shiptypes.VerdictFail {
			ev.outcome = shiptypes.SyncOutcomeFailed
			ev.reason = conditions.ReasonHookFailed
			return ev
		}
	}

	if op != nil && (op.Phase == shiptypes.OperationFailed || op.Phase == shiptypes.OperationError) {
		ev.outcome = shiptypes.SyncOutcomeFailed
		ev.reason = conditions.ReasonSyncFailed
		return ev
	}

	for _, declared := range r.req.Hooks {
		if !slices.ContainsFunc(ev.hooks, func(h shiptypes.HookExecution) bool {
			return h.Name == declared.Name && h.Verdict == shiptypes.VerdictPass
		}) && !slices.Contains(ev.pending, declared.Name) {
			ev.pending = append(ev.pending, declared.Name)
		}
	}

	if r.req.Trigger && op == nil {
		return ev
	}
	if app.Sync != shiptypes.SyncStatusSynced || app.Health != shiptypes.HealthHealthy {
		return ev
	}
	if op.Running() || len(ev.pending) > 0 {
		return ev
	}

	ev.outcome = shiptypes.SyncOutcomeSucceeded
	ev.reason = conditions.ReasonSyncSucceeded
	return ev
}

// failedError classifies a Failed outcome.
func (d *Driver) failedError(r *run, ev *evaluation) error {
	if ev.reason == conditions.ReasonHookFailed {
		failed := r.op.FailedHooks()
		names := make([]string, 0, len(failed))
		var msgs []string
		for _, h := range failed {
			names = append(names, fmt.Sprintf("%s (%s)", h.Name, h.Phase))
			if msg, _, _ := strings.Cut(h.Output, "\n"); msg != "" {
				msgs = append(msgs, h.Name+": "+msg)
			}
		}
		observed := fmt.Sprintf("hook %s reported Fail while sync=%s health=%s",
			strings.Join(names, ", "), orUnknown(r.op.SyncStatus), orUnknown(r.op.HealthStatus))
		if len(msgs) > 0 {
			observed += "; " + strings.Join(msgs, "; ")
		}
		return failure.New(failure.KindGateFailure, component, conditions.ReasonHookFailed, nil).
			WithAttempt("gate sync of %s on %s hooks", r.req.Application, strings.Join(r.req.GatePhases, ", ")).
			WithObserved("%s", observed).
			WithRemediation("inspect the failing workload and hook logs: `kubectl logs -n <destination> job/%s`", failed[0].Name)
	}

	msg := ""
	if r.last != nil && r.last.Operation != nil {
		msg = r.last.Operation.Message
	}
	return failure.Fatal(component, conditions.ReasonSyncFailed, nil).
		WithAttempt("sync %s", r.req.Application).
		WithObserved("operation %s: %s", ev.phase, msg).
		WithRemediation("fix the manifests at the source revision; `argocd app get %s --show-operation` has the per-resource results", r.req.Application)
}
