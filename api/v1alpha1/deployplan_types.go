/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// GroupVersion is the API group and version of plan documents.
var GroupVersion = schema.GroupVersion{Group: "shipgate.io", Version: "v1alpha1"}

// KindDeployPlan is the only kind in this group.
const KindDeployPlan = "DeployPlan"

// ============================================================
// DeployPlan
// ============================================================

// DeployPlan is the declarative input of one deployment: which runtime to
// provision, which controller release to install, which application to
// register, and how to drive and gate its reconciliation.
type DeployPlan struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec DeployPlanSpec `json:"spec"`
}

// DeployPlanSpec defines the desired deployment.
type DeployPlanSpec struct {
	// runtime describes the local cluster to provision. When omitted the
	// orchestrator targets the kube context given on the command line.
	// +optional
	Runtime *RuntimeSpec `json:"runtime,omitempty"`

	// package is the GitOps controller release.
	// +kubebuilder:validation:Required
	Package PackageSpec `json:"package"`

	// application is the definition registered with the controller.
	// +kubebuilder:validation:Required
	Application ApplicationSpec `json:"application"`

	// sync configures the SyncDriver.
	// +optional
	Sync SyncSpec `json:"sync,omitempty"`
}

// ============================================================
// Runtime
// ============================================================

// RuntimeSpec describes a runtime profile (a minikube profile).
type RuntimeSpec struct {
	// profile is the runtime profile name; it is also the kube context name.
	// +kubebuilder:default="minikube"
	// +optional
	Profile string `json:"profile,omitempty"`

	// startArgs is passed through to the start command, split on whitespace.
	// +optional
	StartArgs string `json:"startArgs,omitempty"`

	// features are toggles (addons) enabled after the runtime is up.
	// +optional
	Features []string `json:"features,omitempty"`
}

// ============================================================
// Package
// ============================================================

// PackageSpec describes a chart release.
type PackageSpec struct {
	// releaseName is the Helm release name.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	ReleaseName string `json:"releaseName"`

	// chart is the chart name within the repository.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Chart string `json:"chart"`

	// version pins the chart version. Empty resolves to the latest compatible.
	// +optional
	Version string `json:"version,omitempty"`

	// repository is the chart repository.
	// +kubebuilder:validation:Required
	Repository RepositorySpec `json:"repository"`

	// namespace is the release namespace; created if missing.
	// +kubebuilder:default="argocd"
	// +optional
	Namespace string `json:"namespace,omitempty"`

	// values is an inline values document, applied after valuesFiles.
	// +optional
	Values *apiextensionsv1.JSON `json:"values,omitempty"`

	// valuesFiles are doublestar glob patterns of YAML values files,
	// merged in order. A pattern that matches nothing is an error.
	// +optional
	ValuesFiles []string `json:"valuesFiles,omitempty"`

	// set holds dot-notation overrides applied last (e.g. "server.insecure": "true").
	// +optional
	Set map[string]string `json:"set,omitempty"`

	// timeoutSeconds bounds the install/upgrade readiness wait.
	// +kubebuilder:default=600
	// +optional
	TimeoutSeconds int32 `json:"timeoutSeconds,omitempty"`

	// requiredCRDs must reach Established before install is considered done.
	// +optional
	RequiredCRDs []string `json:"requiredCRDs,omitempty"`

	// crdTimeoutSeconds bounds the CRD establishment wait.
	// +kubebuilder:default=120
	// +optional
	CRDTimeoutSeconds int32 `json:"crdTimeoutSeconds,omitempty"`
}

// RepositorySpec names a chart repository.
type RepositorySpec struct {
	// name is the local repository identifier.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// url is the repository index URL.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	URL string `json:"url"`
}

// ============================================================
// Application
// ============================================================

// ApplicationSpec is the application definition submitted to the controller.
type ApplicationSpec struct {
	// name is the Application object name.
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// namespace is where the Application object lives (the controller namespace).
	// +kubebuilder:default="argocd"
	// +optional
	Namespace string `json:"namespace,omitempty"`

	// project is the controller project.
	// +kubebuilder:default="default"
	// +optional
	Project string `json:"project,omitempty"`

	// +kubebuilder:validation:Required
	Source SourceSpec `json:"source"`

	// +kubebuilder:validation:Required
	Destination DestinationSpec `json:"destination"`

	// +optional
	SyncPolicy SyncPolicySpec `json:"syncPolicy,omitempty"`

	// hooks are the lifecycle hooks the source declares. Hooks in a gated
	// phase must all pass for the sync to succeed.
	// +optional
	Hooks []HookSpec `json:"hooks,omitempty"`
}

// SourceSpec locates the application manifests.
type SourceSpec struct {
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	RepoURL string `json:"repoURL"`

	// +kubebuilder:validation:Required
	Path string `json:"path"`

	// targetRevision is a branch, tag, or commit SHA.
	// +kubebuilder:default="HEAD"
	// +optional
	TargetRevision string `json:"targetRevision,omitempty"`

	// verify resolves targetRevision against the remote before registering.
	// +optional
	Verify bool `json:"verify,omitempty"`

	// auth configures credentials for the verify step.
	// +optional
	Auth *GitAuthSpec `json:"auth,omitempty"`
}

// GitAuthSpec configures git authentication from local files.
// Exactly one method should be set.
type GitAuthSpec struct {
	// tokenFile holds a personal access token.
	// +optional
	TokenFile string `json:"tokenFile,omitempty"`

	// sshKeyFile holds a PEM private key.
	// +optional
	SSHKeyFile string `json:"sshKeyFile,omitempty"`

	// knownHostsFile verifies the SSH host key. Host keys are not verified when empty.
	// +optional
	KnownHostsFile string `json:"knownHostsFile,omitempty"`

	// githubApp authenticates as a GitHub App installation.
	// +optional
	GitHubApp *GitHubAppAuth `json:"githubApp,omitempty"`
}

// GitHubAppAuth configures GitHub App installation token exchange.
type GitHubAppAuth struct {
	// +kubebuilder:validation:Required
	AppID int64 `json:"appID"`

	// +kubebuilder:validation:Required
	InstallationID int64 `json:"installationID"`

	// privateKeyFile holds the App's PEM private key.
	// +kubebuilder:validation:Required
	PrivateKeyFile string `json:"privateKeyFile"`

	// apiBaseURL overrides https://api.github.com for GitHub Enterprise.
	// +optional
	APIBaseURL string `json:"apiBaseURL,omitempty"`
}

// DestinationSpec is where the controller reconciles to.
type DestinationSpec struct {
	// +kubebuilder:default="https://kubernetes.default.svc"
	// +optional
	Server string `json:"server,omitempty"`

	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Namespace string `json:"namespace"`
}

// SyncPolicySpec is the controller sync policy.
type SyncPolicySpec struct {
	// +optional
	AutoSync bool `json:"autoSync,omitempty"`

	// +optional
	Prune bool `json:"prune,omitempty"`

	// +optional
	SelfHeal bool `json:"selfHeal,omitempty"`
}

// HookSpec declares one lifecycle hook.
type HookSpec struct {
	// name is the hook resource name (the Job name).
	// +kubebuilder:validation:Required
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`

	// +kubebuilder:default="PostSync"
	// +kubebuilder:validation:Enum=PreSync;Sync;PostSync
	// +optional
	Phase string `json:"phase,omitempty"`

	// deletePolicy is the controller hook delete policy.
	// +kubebuilder:default="BeforeHookCreation"
	// +kubebuilder:validation:Enum=HookSucceeded;HookFailed;BeforeHookCreation
	// +optional
	DeletePolicy string `json:"deletePolicy,omitempty"`

	// verify configures the Job rendered by `render-hooks`.
	// +optional
	Verify *VerifyJobSpec `json:"verify,omitempty"`
}

// VerifyJobSpec configures a rendered verification Job.
type VerifyJobSpec struct {
	// image runs `shipgate verify`.
	// +kubebuilder:validation:Required
	Image string `json:"image"`

	// baseURL of the workload under test, e.g. http://api.app.svc:8000.
	// +kubebuilder:validation:Required
	BaseURL string `json:"baseURL"`

	// +kubebuilder:default=120
	// +optional
	ReadyTimeoutSeconds int32 `json:"readyTimeoutSeconds,omitempty"`

	// backoffLimit is passed to the Job unchanged; 0 runs one verification
	// pod per sync.
	// +kubebuilder:default=0
	// +kubebuilder:validation:Minimum=0
	// +optional
	BackoffLimit int32 `json:"backoffLimit,omitempty"`

	// activeDeadlineSeconds bounds the whole Job.
	// +kubebuilder:default=300
	// +optional
	ActiveDeadlineSeconds int64 `json:"activeDeadlineSeconds,omitempty"`
}

// ============================================================
// Sync
// ============================================================

// SyncSpec configures the SyncDriver.
type SyncSpec struct {
	// trigger requests an explicit sync. When false the controller's own
	// auto-sync is relied upon.
	// +kubebuilder:default=true
	// +optional
	Trigger *bool `json:"trigger,omitempty"`

	// timeoutSeconds is the overall convergence deadline.
	// +kubebuilder:default=600
	// +optional
	TimeoutSeconds int32 `json:"timeoutSeconds,omitempty"`

	// pollIntervalSeconds is the status poll interval.
	// +kubebuilder:default=5
	// +optional
	PollIntervalSeconds int32 `json:"pollIntervalSeconds,omitempty"`

	// gatePhases lists hook phases whose verdict gates success.
	// +kubebuilder:default={"PostSync"}
	// +optional
	GatePhases []string `json:"gatePhases,omitempty"`
}

// ShouldTrigger reports whether an explicit sync is requested.
func (s SyncSpec) ShouldTrigger() bool {
	return s.Trigger == nil || *s.Trigger
}
