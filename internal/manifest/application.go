package manifest

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	"github.com/ia-eknorr/shipgate/internal/kube"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

// createNamespaceOption lets the controller create the destination namespace.
const createNamespaceOption = "CreateNamespace=true"

// BuildApplication renders the Argo CD Application object for spec.
// Nested values use map[string]any and []any so the result compares equal to
// objects decoded from the API server.
func BuildApplication(spec v1alpha1.ApplicationSpec) *unstructured.Unstructured {
	app := &unstructured.Unstructured{}
	app.SetGroupVersionKind(kube.ApplicationGVK)
	app.SetName(spec.Name)
	app.SetNamespace(spec.Namespace)
	app.SetLabels(desiredLabels(spec))
	app.Object["spec"] = desiredSpec(spec)
	return app
}

func desiredLabels(spec v1alpha1.ApplicationSpec) map[string]string {
	return map[string]string{
		shiptypes.LabelManagedBy:   shiptypes.ManagedByValue,
		shiptypes.LabelApplication: spec.Name,
	}
}

func desiredSpec(spec v1alpha1.ApplicationSpec) map[string]any {
	syncPolicy := map[string]any{
		"syncOptions": []any{createNamespaceOption},
	}
	if spec.SyncPolicy.AutoSync {
		syncPolicy["automated"] = map[string]any{
			"prune":    spec.SyncPolicy.Prune,
			"selfHeal": spec.SyncPolicy.SelfHeal,
		}
	}

	return map[string]any{
		"project": spec.Project,
		"source": map[string]any{
			"repoURL":        spec.Source.RepoURL,
			"path":           spec.Source.Path,
			"targetRevision": spec.Source.TargetRevision,
		},
		"destination": map[string]any{
			"server":    spec.Destination.Server,
			"namespace": spec.Destination.Namespace,
		},
		"syncPolicy": syncPolicy,
	}
}
