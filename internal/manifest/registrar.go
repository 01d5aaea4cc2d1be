// Package manifest registers the application definition with the GitOps
// controller and renders the verification hooks its source declares.
package manifest

import (
	"context"
	"errors"
	"fmt"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/internal/git"
	"github.com/ia-eknorr/shipgate/internal/kube"
	"github.com/ia-eknorr/shipgate/pkg/conditions"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

const (
	component = "ManifestRegistrar"

	applyAttempts = 3
)

// Ack confirms a registered application.
type Ack struct {
	Name            string
	Namespace       string
	UID             types.UID
	ResourceVersion string

	// Action is one of "created", "updated" or "unchanged".
	Action string

	// Commit is the resolved source revision when verification ran.
	Commit string
}

// Registrar applies Application objects.
type Registrar struct {
	Clients kube.ClientFactory

	// Git resolves source revisions; defaults to go-git.
	Git git.Resolver

	// RunID is recorded on written objects.
	RunID string
}

// Register upserts the Application by name and reads it back.
func (r *Registrar) Register(ctx context.Context, target kube.Target, spec v1alpha1.ApplicationSpec) (Ack, error) {
	log := logf.FromContext(ctx).WithName("register").WithValues("application", spec.Name, "namespace", spec.Namespace)

	c, err := r.Clients(target)
	if err != nil {
		return Ack{}, failure.Fatal(component, conditions.ReasonApplyFailed, err).
			WithAttempt("connect to cluster %s", target).
			WithRemediation("check the kubeconfig and context")
	}

	if err := r.checkCRD(ctx, c); err != nil {
		return Ack{}, err
	}

	ack := Ack{Name: spec.Name, Namespace: spec.Namespace}
	if spec.Source.Verify {
		commit, err := r.verifySource(ctx, spec.Source)
		if err != nil {
			return Ack{}, err
		}
		ack.Commit = commit
		log.Info("source revision resolved", "revision", spec.Source.TargetRevision, "commit", commit)
	}

	action, err := r.apply(ctx, c, BuildApplication(spec))
	if err != nil {
		return Ack{}, failure.Fatal(component, conditions.ReasonApplyFailed, err).
			WithAttempt("apply Application %s/%s", spec.Namespace, spec.Name).
			WithRemediation("check that the acting identity can create and update applications.argoproj.io in %s", spec.Namespace)
	}
	ack.Action = action

	readBack := &unstructured.Unstructured{}
	readBack.SetGroupVersionKind(kube.ApplicationGVK)
	if err := c.Get(ctx, client.ObjectKey{Namespace: spec.Namespace, Name: spec.Name}, readBack); err != nil {
		return Ack{}, failure.Fatal(component, conditions.ReasonReadBackFailed, err).
			WithAttempt("read back Application %s/%s after apply", spec.Namespace, spec.Name).
			WithObserved("apply reported success but the object cannot be read").
			WithRemediation("check for an admission webhook or controller deleting the object, and RBAC get on applications")
	}
	ack.UID = readBack.GetUID()
	ack.ResourceVersion = readBack.GetResourceVersion()

	log.Info("application registered", "action", action, "resourceVersion", ack.ResourceVersion)
	return ack, nil
}

func (r *Registrar) checkCRD(ctx context.Context, c client.Client) error {
	crd := &apiextensionsv1.CustomResourceDefinition{}
	err := c.Get(ctx, client.ObjectKey{Name: v1alpha1.ApplicationCRD}, crd)
	switch {
	case err == nil:
		return nil
	case apierrors.IsNotFound(err):
		return failure.Fatal(component, conditions.ReasonCRDMissing, err).
			WithAttempt("look up CRD %s", v1alpha1.ApplicationCRD).
			WithObserved("the GitOps controller's Application type is not installed").
			WithRemediation("run `shipgate install` first")
	default:
		return failure.Fatal(component, conditions.ReasonCRDMissing, err).
			WithAttempt("look up CRD %s", v1alpha1.ApplicationCRD).
			WithRemediation("check cluster connectivity and RBAC get on customresourcedefinitions")
	}
}

func (r *Registrar) verifySource(ctx context.Context, src v1alpha1.SourceSpec) (string, error) {
	resolver := r.Git
	if resolver == nil {
		resolver = &git.GoGitClient{}
	}

	auth, err := git.ResolveAuth(ctx, src.Auth)
	if err != nil {
		return "", failure.Fatal(component, conditions.ReasonSourceRefNotFound, err).
			WithAttempt("load git credentials for %s", src.RepoURL).
			WithRemediation("fix spec.application.source.auth")
	}

	res, err := resolver.LsRemote(ctx, src.RepoURL, src.TargetRevision, auth)
	if err != nil {
		remediation := "check the repository URL and credentials"
		if errors.Is(err, git.ErrRefNotFound) {
			remediation = fmt.Sprintf("push %s or fix spec.application.source.targetRevision", src.TargetRevision)
		}
		return "", failure.Fatal(component, conditions.ReasonSourceRefNotFound, err).
			WithAttempt("resolve %s in %s", src.TargetRevision, src.RepoURL).
			WithRemediation("%s", remediation)
	}
	return res.Commit, nil
}

// apply creates desired or replaces the spec and labels of the existing object.
// An unchanged object is not written.
func (r *Registrar) apply(ctx context.Context, c client.Client, desired *unstructured.Unstructured) (string, error) {
	key := client.ObjectKeyFromObject(desired)

	for range applyAttempts {
		existing := &unstructured.Unstructured{}
		existing.SetGroupVersionKind(kube.ApplicationGVK)
		err := c.Get(ctx, key, existing)

		if apierrors.IsNotFound(err) {
			obj := desired.DeepCopy()
			r.stamp(obj)
			if createErr := c.Create(ctx, obj); createErr != nil {
				if apierrors.IsAlreadyExists(createErr) {
					continue
				}
				return "", fmt.Errorf("creating Application: %w", createErr)
			}
			return "created", nil
		}
		if err != nil {
			return "", fmt.Errorf("getting Application: %w", err)
		}

		if !needsUpdate(existing, desired) {
			return "unchanged", nil
		}

		existing.Object["spec"] = desired.Object["spec"]
		labels := existing.GetLabels()
		if labels == nil {
			labels = map[string]string{}
		}
		for k, v := range desired.GetLabels() {
			labels[k] = v
		}
		existing.SetLabels(labels)
		r.stamp(existing)

		if updateErr := c.Update(ctx, existing); updateErr != nil {
			if apierrors.IsConflict(updateErr) {
				continue
			}
			return "", fmt.Errorf("updating Application: %w", updateErr)
		}
		return "updated", nil
	}

	return "", fmt.Errorf("failed to apply Application after %d attempts", applyAttempts)
}

func (r *Registrar) stamp(obj *unstructured.Unstructured) {
	if r.RunID == "" {
		return
	}
	ann := obj.GetAnnotations()
	if ann == nil {
		ann = map[string]string{}
	}
	ann[shiptypes.AnnotationRunID] = r.RunID
	obj.SetAnnotations(ann)
}

func needsUpdate(existing, desired *unstructured.Unstructured) bool {
	if !equality.Semantic.DeepEqual(existing.Object["spec"], desired.Object["spec"]) {
		return true
	}
	labels := existing.GetLabels()
	for k, v := range desired.GetLabels() {
		if labels[k] != v {
			return true
		}
	}
	return false
}
