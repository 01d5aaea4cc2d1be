package syncdriver

import (
	"context"
	"fmt"
	"time"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ia-eknorr/shipgate/internal/argocd"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

const (
	defaultHistoryLimit = 5
	diagnoseTimeout     = 20 * time.Second
)

// diagnose snapshots the application for an unsuccessful sync. It re-reads
// the application once and falls back to the last observed state.
func (d *Driver) diagnose(ctx context.Context, r *run) *shiptypes.Diagnostics {
	log := logf.FromContext(ctx).WithName("sync")

	// The sync deadline may have consumed ctx; diagnostics get their own budget.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), diagnoseTimeout)
	defer cancel()

	app := r.last
	if fresh, err := d.Client.GetApplication(dctx, r.req.Application, r.req.Namespace); err == nil {
		app = &fresh
	} else {
		log.V(1).Info("diagnostic snapshot failed, using last observed state", "error", err.Error())
	}

	diag := &shiptypes.Diagnostics{}
	if r.lastErr != nil {
		diag.LastError = r.lastErr.Error()
	}
	if app == nil {
		diag.SyncStatus = "Unknown"
		diag.HealthStatus = "Unknown"
		return diag
	}

	diag.SyncStatus = orUnknown(app.Sync)
	diag.HealthStatus = orUnknown(app.Health)
	diag.HealthMessage = app.HealthMessage
	if op := app.Operation; op != nil {
		diag.OperationPhase = op.Phase
		diag.OperationMessage = op.Message
		for _, res := range op.Resources {
			if res.Status == "Synced" && res.HookPhase != argocd.HookPhaseFailed && res.HookPhase != argocd.HookPhaseError {
				continue
			}
			line := fmt.Sprintf("%s %s/%s: %s", res.Kind, res.Namespace, res.Name, res.Status)
			if res.HookType != "" {
				line = fmt.Sprintf("%s [%s hook %s]", line, res.HookType, res.HookPhase)
			}
			if res.Message != "" {
				line += ": " + res.Message
			}
			diag.Resources = append(diag.Resources, line)
		}
	}
	for _, c := range app.Conditions {
		diag.Conditions = append(diag.Conditions, c.Type+": "+c.Message)
	}

	limit := d.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	history := app.History
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	for _, h := range history {
		diag.History = append(diag.History, fmt.Sprintf("id=%d revision=%s deployedAt=%s", h.ID, h.Revision, h.DeployedAt.UTC().Format(time.RFC3339)))
	}

	if d.Logs != nil {
		for i, h := range r.op.Hooks {
			if h.Verdict != shiptypes.VerdictFail || h.Kind != "Job" {
				continue
			}
			ns := hookNamespace(app, h.Name)
			logs, err := d.Logs.Fetch(dctx, r.req.Target, ns, h.Name)
			if err != nil {
				log.V(1).Info("hook logs unavailable", "hook", h.Name, "error", err.Error())
				continue
			}
			if logs == "" {
				continue
			}
			if diag.HookLogs == nil {
				diag.HookLogs = map[string]string{}
			}
			diag.HookLogs[h.Name] = logs
			r.op.Hooks[i].Output = joinOutput(h.Output, logs)
		}
	}

	return diag
}

func hookNamespace(app *argocd.Application, name string) string {
	if app.Operation != nil {
		for _, res := range app.Operation.Resources {
			if res.Name == name && res.HookType != "" {
				return res.Namespace
			}
		}
	}
	return ""
}

func joinOutput(message, logs string) string {
	if message == "" {
		return logs
	}
	return message + "\n" + logs
}
