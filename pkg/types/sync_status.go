package types

import "time"

// SyncOutcome is the terminal result of a SyncOperation.
type SyncOutcome string

const (
	// SyncOutcomeSucceeded: destination reconciled and every gated hook passed.
	SyncOutcomeSucceeded SyncOutcome = "Succeeded"

	// SyncOutcomeFailed: a gated hook failed, or the sync operation itself failed.
	SyncOutcomeFailed SyncOutcome = "Failed"

	// SyncOutcomeTimedOut: the deadline elapsed before a terminal condition.
	SyncOutcomeTimedOut SyncOutcome = "TimedOut"
)

// HookPhase is the reconciliation lifecycle phase a hook runs in.
type HookPhase string

const (
	HookPhasePreSync  HookPhase = "PreSync"
	HookPhaseSync     HookPhase = "Sync"
	HookPhasePostSync HookPhase = "PostSync"
)

// Verdict is the gate result reported by one hook execution.
type Verdict string

const (
	VerdictPending Verdict = "Pending"
	VerdictPass    Verdict = "Pass"
	VerdictFail    Verdict = "Fail"
)

// Controller-reported status values (Argo CD).
const (
	SyncStatusSynced    = "Synced"
	SyncStatusOutOfSync = "OutOfSync"

	HealthHealthy     = "Healthy"
	HealthProgressing = "Progressing"
	HealthDegraded    = "Degraded"

	OperationRunning     = "Running"
	OperationTerminating = "Terminating"
	OperationSucceeded   = "Succeeded"
	OperationFailed      = "Failed"
	OperationError       = "Error"
)

// RuntimeState is what the RuntimeProvisioner hands to later components.
type RuntimeState struct {
	// Profile is the runtime profile name.
	Profile string `json:"profile"`

	// KubeContext is the kubeconfig context that targets this profile.
	KubeContext string `json:"kubeContext"`

	// Started is true when this invocation had to start the runtime.
	Started bool `json:"started"`

	// FeaturesEnabled lists the toggles that were (re-)enabled.
	FeaturesEnabled []string `json:"featuresEnabled,omitempty"`
}

// HookExecution is one observed instance of a hook for a given sync.
type HookExecution struct {
	Name        string    `json:"name"`
	Kind        string    `json:"kind"`
	Phase       HookPhase `json:"phase"`
	ExecutionID string    `json:"executionID"`
	Verdict     Verdict   `json:"verdict"`

	// Output is free-form diagnostic text: the controller's hook message and,
	// when available, a tail of the hook pod logs.
	Output string `json:"output,omitempty"`
}

// SyncOperation is the record of one triggered or observed reconciliation.
type SyncOperation struct {
	Application  string          `json:"application"`
	TriggeredAt  time.Time       `json:"triggeredAt"`
	ResolvedAt   time.Time       `json:"resolvedAt"`
	Outcome      SyncOutcome     `json:"outcome"`
	Revision     string          `json:"revision,omitempty"`
	SyncStatus   string          `json:"syncStatus,omitempty"`
	HealthStatus string          `json:"healthStatus,omitempty"`
	Hooks        []HookExecution `json:"hooks,omitempty"`

	// Transitions lists the driver states in the order they were entered.
	Transitions []string `json:"transitions,omitempty"`

	// Diagnostics is populated on Failed and TimedOut.
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// FailedHooks returns the hooks whose verdict is Fail.
func (op *SyncOperation) FailedHooks() []HookExecution {
	var out []HookExecution
	for _, h := range op.Hooks {
		if h.Verdict == VerdictFail {
			out = append(out, h)
		}
	}
	return out
}

// Diagnostics is the context gathered when a sync does not succeed.
type Diagnostics struct {
	SyncStatus       string            `json:"syncStatus"`
	HealthStatus     string            `json:"healthStatus"`
	HealthMessage    string            `json:"healthMessage,omitempty"`
	OperationPhase   string            `json:"operationPhase,omitempty"`
	OperationMessage string            `json:"operationMessage,omitempty"`
	Resources        []string          `json:"resources,omitempty"`
	Conditions       []string          `json:"conditions,omitempty"`
	History          []string          `json:"history,omitempty"`
	HookLogs         map[string]string `json:"hookLogs,omitempty"`
	LastError        string            `json:"lastError,omitempty"`
}
