package conditions

// Condition types read from the cluster.
const (
	// TypeEstablished is the CustomResourceDefinition condition that reports
	// the API server is serving the new resource type.
	TypeEstablished = "Established"

	// TypeNamesAccepted reports the CRD names do not conflict.
	TypeNamesAccepted = "NamesAccepted"
)

// Reasons written into failure diagnostics and the status ConfigMap.
const (
	ReasonToolMissing         = "ToolMissing"
	ReasonRuntimeStartFailed  = "RuntimeStartFailed"
	ReasonFeatureEnableFailed = "FeatureEnableFailed"
	ReasonRepoUnavailable     = "RepositoryUnavailable"
	ReasonValuesInvalid       = "ValuesInvalid"
	ReasonReleaseFailed       = "ReleaseFailed"
	ReasonReleaseTimeout      = "ReleaseTimeout"
	ReasonCRDNotEstablished   = "CRDNotEstablished"
	ReasonCRDMissing          = "CRDMissing"
	ReasonSourceRefNotFound   = "SourceRefNotFound"
	ReasonApplyFailed         = "ApplyFailed"
	ReasonReadBackFailed      = "ReadBackFailed"
	ReasonAuthFailed          = "AuthFailed"
	ReasonAppNotFound         = "ApplicationNotFound"
	ReasonSyncTriggerFailed   = "SyncTriggerFailed"
	ReasonSyncFailed          = "SyncFailed"
	ReasonSyncTimedOut        = "SyncTimedOut"
	ReasonHookFailed          = "HookFailed"
	ReasonSyncSucceeded       = "SyncSucceeded"
)
