// Package argocd is a small client for the Argo CD REST API covering what the
// SyncDriver needs: session check, application status, and sync trigger.
package argocd

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnauthorized is returned for 401/403 responses and missing credentials.
	ErrUnauthorized = errors.New("not authenticated to the GitOps controller")

	// ErrNotFound is returned when the application does not exist.
	ErrNotFound = errors.New("application not found")

	// ErrOperationInProgress is returned when a sync is requested while
	// another operation is running.
	ErrOperationInProgress = errors.New("another operation is already in progress")
)

// Hook types and phases as reported in syncResult.resources.
const (
	HookTypePreSync  = "PreSync"
	HookTypeSync     = "Sync"
	HookTypePostSync = "PostSync"
	HookTypeSyncFail = "SyncFail"

	HookPhaseRunning   = "Running"
	HookPhaseSucceeded = "Succeeded"
	HookPhaseFailed    = "Failed"
	HookPhaseError     = "Error"
)

// UserInfo is the session the client acts as.
type UserInfo struct {
	LoggedIn bool   `json:"loggedIn"`
	Username string `json:"username"`
	Issuer   string `json:"iss"`
}

// Application is the observed state of one Argo CD application.
type Application struct {
	Name      string
	Namespace string

	Sync          string
	SyncRevision  string
	Health        string
	HealthMessage string

	// Operation is the current or last operation. Nil when none has run.
	Operation *OperationState

	History    []HistoryEntry
	Conditions []Condition
}

// OperationState is status.operationState.
type OperationState struct {
	Phase      string
	Message    string
	StartedAt  time.Time
	FinishedAt *time.Time
	Revision   string
	Resources  []ResourceResult
}

// Running reports whether the operation has not reached a terminal phase.
func (o *OperationState) Running() bool {
	return o != nil && (o.Phase == "Running" || o.Phase == "Terminating")
}

// Hooks returns the resources that are lifecycle hooks.
func (o *OperationState) Hooks() []ResourceResult {
	if o == nil {
		return nil
	}
	var out []ResourceResult
	for _, r := range o.Resources {
		if r.HookType != "" {
			out = append(out, r)
		}
	}
	return out
}

// ResourceResult is one entry of syncResult.resources.
type ResourceResult struct {
	Group     string
	Kind      string
	Namespace string
	Name      string
	Status    string
	Message   string
	HookType  string
	HookPhase string
	SyncPhase string
}

// HistoryEntry is one completed sync.
type HistoryEntry struct {
	ID         int64
	Revision   string
	DeployedAt time.Time
}

// Condition is an application condition (errors and warnings).
type Condition struct {
	Type    string
	Message string
}

// SyncOptions parameterize a sync request.
type SyncOptions struct {
	Revision string
	Prune    bool
}

// Client is the controller API surface the SyncDriver depends on.
type Client interface {
	UserInfo(ctx context.Context) (UserInfo, error)
	GetApplication(ctx context.Context, name, namespace string) (Application, error)
	SyncApplication(ctx context.Context, name, namespace string, opts SyncOptions) error
}
