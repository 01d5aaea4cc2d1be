package types

const (
	// AnnotationPrefix is the base prefix for all shipgate labels and annotations.
	AnnotationPrefix = "shipgate.io"

	// LabelManagedBy marks objects written by shipgate.
	LabelManagedBy = "app.kubernetes.io/managed-by"

	// ManagedByValue is the value of LabelManagedBy on shipgate-owned objects.
	ManagedByValue = "shipgate"

	// LabelApplication identifies the Argo CD Application an object belongs to.
	// Used on the status ConfigMap and on rendered hook Jobs.
	LabelApplication = AnnotationPrefix + "/application"

	// AnnotationRunID records the orchestrator run that last wrote an object.
	AnnotationRunID = AnnotationPrefix + "/run-id"

	// Argo CD resource hook annotations. Hooks are rendered with these so the
	// controller instantiates them at the declared lifecycle phase.

	// AnnotationArgoHook declares the sync phase a resource hook runs in.
	AnnotationArgoHook = "argocd.argoproj.io/hook"

	// AnnotationArgoHookDeletePolicy declares when the controller deletes a hook.
	AnnotationArgoHookDeletePolicy = "argocd.argoproj.io/hook-delete-policy"

	// LabelJobName is set by the Job controller on pods it creates.
	LabelJobName = "job-name"
)
