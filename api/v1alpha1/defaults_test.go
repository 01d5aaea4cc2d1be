package v1alpha1

import (
	"strings"
	"testing"
)

const minimalPlan = `
apiVersion: shipgate.io/v1alpha1
kind: DeployPlan
metadata:
  name: cats-dogs
spec:
  runtime:
    startArgs: "--cpus=4 --memory=8g"
    features: [ingress]
  package:
    releaseName: argocd
    chart: argo-cd
    repository:
      name: argo
      url: https://argoproj.github.io/argo-helm
  application:
    name: cats-dogs
    source:
      repoURL: https://github.com/example/cats-dogs.git
      path: deploy/k8s
    destination:
      namespace: cats-dogs
    syncPolicy:
      autoSync: true
      prune: true
      selfHeal: true
    hooks:
      - name: cats-dogs-smoke
        verify:
          image: ghcr.io/example/shipgate:0.1.0
          baseURL: http://cats-dogs-api.cats-dogs.svc:8000
`

func TestParsePlan_Defaults(t *testing.T) {
	plan, err := ParsePlan([]byte(minimalPlan))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Spec.Runtime.Profile != DefaultProfile {
		t.Errorf("profile = %q, want %q", plan.Spec.Runtime.Profile, DefaultProfile)
	}
	if plan.Spec.Package.Namespace != "argocd" {
		t.Errorf("package namespace = %q", plan.Spec.Package.Namespace)
	}
	if got := plan.Spec.Package.RequiredCRDs; len(got) != 1 || got[0] != ApplicationCRD {
		t.Errorf("requiredCRDs = %v", got)
	}
	if plan.Spec.Application.Source.TargetRevision != "HEAD" {
		t.Errorf("targetRevision = %q", plan.Spec.Application.Source.TargetRevision)
	}
	if plan.Spec.Application.Destination.Server != DefaultDestinationServer {
		t.Errorf("destination server = %q", plan.Spec.Application.Destination.Server)
	}
	hook := plan.Spec.Application.Hooks[0]
	if hook.Phase != "PostSync" || hook.DeletePolicy != "BeforeHookCreation" {
		t.Errorf("hook defaults = %+v", hook)
	}
	if hook.Verify.ReadyTimeoutSeconds != DefaultReadyTimeout {
		t.Errorf("readyTimeoutSeconds = %d", hook.Verify.ReadyTimeoutSeconds)
	}
	if hook.Verify.BackoffLimit != 0 {
		t.Errorf("backoffLimit = %d, want 0", hook.Verify.BackoffLimit)
	}
	if !plan.Spec.Sync.ShouldTrigger() {
		t.Error("trigger should default to true")
	}
	if got := plan.GatedHooks(); len(got) != 1 || got[0].Name != "cats-dogs-smoke" {
		t.Errorf("GatedHooks() = %v", got)
	}
}

func TestParsePlan_BackoffLimit(t *testing.T) {
	base := "          baseURL: http://cats-dogs-api.cats-dogs.svc:8000\n"
	if !strings.Contains(minimalPlan, base) {
		t.Fatal("fixture changed")
	}

	explicitZero := strings.Replace(minimalPlan, base, base+"          backoffLimit: 0\n", 1)
	plan, err := ParsePlan([]byte(explicitZero))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := plan.Spec.Application.Hooks[0].Verify.BackoffLimit; got != 0 {
		t.Errorf("explicit backoffLimit 0 became %d", got)
	}

	three := strings.Replace(minimalPlan, base, base+"          backoffLimit: 3\n", 1)
	plan, err = ParsePlan([]byte(three))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := plan.Spec.Application.Hooks[0].Verify.BackoffLimit; got != 3 {
		t.Errorf("backoffLimit = %d, want 3", got)
	}

	negative := strings.Replace(minimalPlan, base, base+"          backoffLimit: -1\n", 1)
	if _, err := ParsePlan([]byte(negative)); err == nil || !strings.Contains(err.Error(), "backoffLimit") {
		t.Errorf("expected backoffLimit validation error, got %v", err)
	}
}

func TestParsePlan_UnknownFieldRejected(t *testing.T) {
	doc := strings.Replace(minimalPlan, "  runtime:", "  runtim:", 1)
	if _, err := ParsePlan([]byte(doc)); err == nil {
		t.Fatal("expected strict decoding to reject unknown field")
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	plan := &DeployPlan{}
	plan.Default()
	plan.Spec.Application.Hooks = []HookSpec{
		{Name: "smoke", Phase: "AfterSync", DeletePolicy: "Never"},
		{Name: "smoke", Phase: "PostSync", DeletePolicy: "HookSucceeded", Verify: &VerifyJobSpec{Image: "UPPER CASE:bad"}},
	}

	err := plan.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"releaseName is required",
		"chart is required",
		"repository.name and url are required",
		"application.name is required",
		"repoURL is required",
		"destination.namespace is required",
		"hooks[0].phase",
		"hooks[0].deletePolicy",
		`hooks[1].name "smoke" is duplicated`,
		"hooks[1].verify.image",
		"hooks[1].verify.baseURL is required",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidate_MultipleAuthMethods(t *testing.T) {
	plan, err := ParsePlan([]byte(minimalPlan))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	plan.Spec.Application.Source.Auth = &GitAuthSpec{TokenFile: "/t", SSHKeyFile: "/k"}
	if err := plan.Validate(); err == nil || !strings.Contains(err.Error(), "only one of") {
		t.Errorf("expected auth conflict error, got %v", err)
	}
}

func TestShouldTrigger_ExplicitFalse(t *testing.T) {
	off := false
	if (SyncSpec{Trigger: &off}).ShouldTrigger() {
		t.Error("expected explicit trigger=false to be honored")
	}
}
