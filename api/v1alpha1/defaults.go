package v1alpha1

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	"sigs.k8s.io/yaml"
)

// Defaults applied by Default.
const (
	DefaultProfile             = "minikube"
	DefaultControllerNamespace = "argocd"
	DefaultProject             = "default"
	DefaultTargetRevision      = "HEAD"
	DefaultDestinationServer   = "https://kubernetes.default.svc"
	DefaultPackageTimeout      = 600
	DefaultCRDTimeout          = 120
	DefaultSyncTimeout         = 600
	DefaultPollInterval        = 5
	DefaultReadyTimeout        = 120
	DefaultJobDeadline         = 300

	// ApplicationCRD is the controller extension point the registrar depends on.
	ApplicationCRD = "applications.argoproj.io"
)

var validPhases = []string{"PreSync", "Sync", "PostSync"}

var validDeletePolicies = []string{"HookSucceeded", "HookFailed", "BeforeHookCreation"}

// LoadPlan reads, defaults and validates a plan file.
func LoadPlan(path string) (*DeployPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan %s: %w", path, err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes, defaults and validates a plan document.
func ParsePlan(data []byte) (*DeployPlan, error) {
	plan := &DeployPlan{}
	if err := yaml.UnmarshalStrict(data, plan); err != nil {
		return nil, fmt.Errorf("decoding plan: %w", err)
	}
	plan.Default()
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// Default fills unset fields.
func (p *DeployPlan) Default() {
	if p.APIVersion == "" {
		p.APIVersion = GroupVersion.String()
	}
	if p.Kind == "" {
		p.Kind = KindDeployPlan
	}

	if rt := p.Spec.Runtime; rt != nil && rt.Profile == "" {
		rt.Profile = DefaultProfile
	}

	pkg := &p.Spec.Package
	if pkg.Namespace == "" {
		pkg.Namespace = DefaultControllerNamespace
	}
	if pkg.TimeoutSeconds == 0 {
		pkg.TimeoutSeconds = DefaultPackageTimeout
	}
	if pkg.CRDTimeoutSeconds == 0 {
		pkg.CRDTimeoutSeconds = DefaultCRDTimeout
	}
	if len(pkg.RequiredCRDs) == 0 {
		pkg.RequiredCRDs = []string{ApplicationCRD}
	}

	app := &p.Spec.Application
	if app.Namespace == "" {
		app.Namespace = DefaultControllerNamespace
	}
	if app.Project == "" {
		app.Project = DefaultProject
	}
	if app.Source.TargetRevision == "" {
		app.Source.TargetRevision = DefaultTargetRevision
	}
	if app.Destination.Server == "" {
		app.Destination.Server = DefaultDestinationServer
	}
	for i := range app.Hooks {
		h := &app.Hooks[i]
		if h.Phase == "" {
			h.Phase = "PostSync"
		}
		if h.DeletePolicy == "" {
			h.DeletePolicy = "BeforeHookCreation"
		}
		if v := h.Verify; v != nil {
			if v.ReadyTimeoutSeconds == 0 {
				v.ReadyTimeoutSeconds = DefaultReadyTimeout
			}
			if v.ActiveDeadlineSeconds == 0 {
				v.ActiveDeadlineSeconds = DefaultJobDeadline
			}
		}
	}

	s := &p.Spec.Sync
	if s.TimeoutSeconds == 0 {
		s.TimeoutSeconds = DefaultSyncTimeout
	}
	if s.PollIntervalSeconds == 0 {
		s.PollIntervalSeconds = DefaultPollInterval
	}
	if len(s.GatePhases) == 0 {
		s.GatePhases = []string{"PostSync"}
	}
}

// Validate reports every problem in the plan at once.
func (p *DeployPlan) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if p.APIVersion != GroupVersion.String() {
		add("apiVersion must be %s, got %q", GroupVersion.String(), p.APIVersion)
	}
	if p.Kind != KindDeployPlan {
		add("kind must be %s, got %q", KindDeployPlan, p.Kind)
	}

	pkg := p.Spec.Package
	if pkg.ReleaseName == "" {
		add("spec.package.releaseName is required")
	}
	if pkg.Chart == "" {
		add("spec.package.chart is required")
	}
	if pkg.Repository.Name == "" || pkg.Repository.URL == "" {
		add("spec.package.repository.name and url are required")
	}
	if pkg.TimeoutSeconds < 0 || pkg.CRDTimeoutSeconds < 0 {
		add("spec.package timeouts must be positive")
	}

	app := p.Spec.Application
	if app.Name == "" {
		add("spec.application.name is required")
	}
	if app.Source.RepoURL == "" {
		add("spec.application.source.repoURL is required")
	}
	if app.Destination.Namespace == "" {
		add("spec.application.destination.namespace is required")
	}
	if a := app.Source.Auth; a != nil {
		methods := 0
		for _, set := range []bool{a.TokenFile != "", a.SSHKeyFile != "", a.GitHubApp != nil} {
			if set {
				methods++
			}
		}
		if methods > 1 {
			add("spec.application.source.auth: set only one of tokenFile, sshKeyFile, githubApp")
		}
	}

	seen := map[string]bool{}
	for i, h := range app.Hooks {
		field := fmt.Sprintf("spec.application.hooks[%d]", i)
		if h.Name == "" {
			add("%s.name is required", field)
		}
		if seen[h.Name] {
			add("%s.name %q is duplicated", field, h.Name)
		}
		seen[h.Name] = true
		if !slices.Contains(validPhases, h.Phase) {
			add("%s.phase must be one of %s", field, strings.Join(validPhases, ", "))
		}
		if !slices.Contains(validDeletePolicies, h.DeletePolicy) {
			add("%s.deletePolicy must be one of %s", field, strings.Join(validDeletePolicies, ", "))
		}
		if v := h.Verify; v != nil {
			if _, err := name.ParseReference(v.Image); err != nil {
				add("%s.verify.image: %v", field, err)
			}
			if v.BaseURL == "" {
				add("%s.verify.baseURL is required", field)
			}
			if v.BackoffLimit < 0 {
				add("%s.verify.backoffLimit must not be negative", field)
			}
		}
	}

	s := p.Spec.Sync
	if s.TimeoutSeconds <= 0 || s.PollIntervalSeconds <= 0 {
		add("spec.sync timeoutSeconds and pollIntervalSeconds must be positive")
	}
	for _, ph := range s.GatePhases {
		if !slices.Contains(validPhases, ph) {
			add("spec.sync.gatePhases: unknown phase %q", ph)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid plan: %w", errors.Join(errs...))
	}
	return nil
}

// GatedHooks returns the declared hooks whose phase gates success.
func (p *DeployPlan) GatedHooks() []HookSpec {
	var out []HookSpec
	for _, h := range p.Spec.Application.Hooks {
		if slices.Contains(p.Spec.Sync.GatePhases, h.Phase) {
			out = append(out, h)
		}
	}
	return out
}
