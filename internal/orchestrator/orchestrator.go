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

// Package orchestrator runs the deployment components in order and maps the
// first failure to the run outcome.
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/internal/kube"
	"github.com/ia-eknorr/shipgate/internal/manifest"
	"github.com/ia-eknorr/shipgate/internal/syncdriver"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

// Component names recorded on steps and metrics.
const (
	ComponentRuntime   = "RuntimeProvisioner"
	ComponentPackage   = "PackageInstaller"
	ComponentRegistrar = "ManifestRegistrar"
	ComponentSync      = "SyncDriver"
)

// RuntimeProvisioner brings the local runtime up.
type RuntimeProvisioner interface {
	EnsureRunning(ctx context.Context, spec v1alpha1.RuntimeSpec) (shiptypes.RuntimeState, error)
}

// PackageInstaller installs or upgrades the controller release.
type PackageInstaller interface {
	InstallOrUpgrade(ctx context.Context, target kube.Target, spec v1alpha1.PackageSpec) error
}

// ManifestRegistrar registers the application definition.
type ManifestRegistrar interface {
	Register(ctx context.Context, target kube.Target, spec v1alpha1.ApplicationSpec) (manifest.Ack, error)
}

// SyncDriver drives one reconciliation to a verdict.
type SyncDriver interface {
	Sync(ctx context.Context, req syncdriver.Request) (*shiptypes.SyncOperation, error)
}

// Step is one executed component.
type Step struct {
	Component string
	Duration  time.Duration
	Err       error
}

// Result is the outcome of one run.
type Result struct {
	RunID       string
	Application string

	// Target is the cluster the run acted on, after provisioning.
	Target kube.Target

	Runtime      *shiptypes.RuntimeState
	Registration *manifest.Ack
	Sync         *shiptypes.SyncOperation
	Steps        []Step

	// Err is the failure that ended the run; nil on success.
	Err error
}

// Kind returns the failure kind, empty on success.
func (r Result) Kind() failure.Kind {
	return failure.KindOf(r.Err)
}

// ExitCode returns the process exit code for the run.
func (r Result) ExitCode() int {
	return failure.ExitCode(r.Kind())
}

// Succeeded reports whether every component succeeded.
func (r Result) Succeeded() bool {
	return r.Err == nil
}

// Orchestrator sequences the components. Any component failure ends the run;
// later components are never invoked.
type Orchestrator struct {
	Provisioner RuntimeProvisioner
	Installer   PackageInstaller
	Registrar   ManifestRegistrar
	Syncer      SyncDriver

	// Clients is used to write the status ConfigMap. Optional.
	Clients kube.ClientFactory

	// Metrics is optional.
	Metrics *Metrics

	// RunID identifies the run; generated when empty.
	RunID string

	Clock clock.PassiveClock
}

// Run executes plan against target. When the plan declares a runtime, the
// provisioned profile's context replaces target.Context.
func (o *Orchestrator) Run(ctx context.Context, plan *v1alpha1.DeployPlan, target kube.Target) Result {
	runID := o.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	app := plan.Spec.Application
	log := logf.FromContext(ctx).WithName("orchestrator").WithValues("runID", runID, "application", app.Name)
	ctx = logf.IntoContext(ctx, log)

	res := Result{RunID: runID, Application: app.Name, Target: target}
	defer o.finish(ctx, plan, &res)

	if rt := plan.Spec.Runtime; rt != nil {
		var state shiptypes.RuntimeState
		if !o.step(ctx, &res, ComponentRuntime, func(ctx context.Context) (err error) {
			state, err = o.Provisioner.EnsureRunning(ctx, *rt)
			return err
		}) {
			return res
		}
		res.Runtime = &state
		res.Target.Context = state.KubeContext
	} else {
		log.Info("no runtime declared, using existing cluster", "target", target.String())
	}

	if !o.step(ctx, &res, ComponentPackage, func(ctx context.Context) error {
		return o.Installer.InstallOrUpgrade(ctx, res.Target, plan.Spec.Package)
	}) {
		return res
	}

	if !o.step(ctx, &res, ComponentRegistrar, func(ctx context.Context) error {
		ack, err := o.Registrar.Register(ctx, res.Target, app)
		if err == nil {
			res.Registration = &ack
		}
		return err
	}) {
		return res
	}

	o.step(ctx, &res, ComponentSync, func(ctx context.Context) error {
		req := NewSyncRequest(plan)
		req.Target = res.Target
		op, err := o.Syncer.Sync(ctx, req)
		res.Sync = op
		return err
	})
	return res
}

// step runs fn, records it, and reports whether the run may continue.
func (o *Orchestrator) step(ctx context.Context, res *Result, component string, fn func(context.Context) error) bool {
	log := logf.FromContext(ctx)
	start := o.clock().Now()
	log.Info("step started", "component", component)

	err := fn(ctx)
	elapsed := o.clock().Since(start)
	res.Steps = append(res.Steps, Step{Component: component, Duration: elapsed, Err: err})

	result := "success"
	if err != nil {
		result = string(failure.KindOf(err))
	}
	if o.Metrics != nil {
		o.Metrics.ComponentDuration.WithLabelValues(component).Observe(elapsed.Seconds())
		o.Metrics.ComponentTotal.WithLabelValues(component, result).Inc()
	}

	if err != nil {
		res.Err = err
		log.Error(err, "step failed", "component", component, "kind", failure.KindOf(err), "duration", elapsed)
		return false
	}
	log.Info("step completed", "component", component, "duration", elapsed)
	return true
}

func (o *Orchestrator) finish(ctx context.Context, plan *v1alpha1.DeployPlan, res *Result) {
	log := logf.FromContext(ctx)
	now := o.clock().Now()

	if o.Metrics != nil {
		outcome := "Succeeded"
		if res.Err != nil {
			outcome = string(res.Kind())
		}
		o.Metrics.RunTotal.WithLabelValues(res.Application, outcome).Inc()
		o.Metrics.LastRunTimestamp.Set(float64(now.Unix()))
		if res.Succeeded() {
			o.Metrics.LastRunSuccess.Set(1)
		} else {
			o.Metrics.LastRunSuccess.Set(0)
		}
		if res.Sync != nil {
			for _, h := range res.Sync.Hooks {
				o.Metrics.HookVerdicts.WithLabelValues(h.Name, string(h.Verdict)).Inc()
			}
		}
	}

	// Written only once the Application is registered.
	if o.Clients == nil || res.Registration == nil {
		return
	}
	c, err := o.Clients(res.Target)
	if err != nil {
		log.Error(err, "failed to build client for status record")
		return
	}
	rec := &StatusRecord{
		RunID:      res.RunID,
		Kind:       res.Kind(),
		ExitCode:   res.ExitCode(),
		FinishedAt: now,
		Operation:  res.Sync,
	}
	if fe, ok := failure.As(res.Err); ok {
		rec.Reason = fe.Reason
	}
	if res.Err != nil {
		rec.Message = res.Err.Error()
	}
	ns := plan.Spec.Application.Namespace
	if err := WriteStatusConfigMap(ctx, c, ns, res.Application, rec); err != nil {
		log.Error(err, "failed to write status record", "configMap", StatusConfigMapName(res.Application))
		return
	}
	log.V(1).Info("status record written", "configMap", StatusConfigMapName(res.Application), "namespace", ns)
}

func (o *Orchestrator) clock() clock.PassiveClock {
	if o.Clock == nil {
		return clock.RealClock{}
	}
	return o.Clock
}

// NewSyncRequest derives the sync parameters from plan.
func NewSyncRequest(plan *v1alpha1.DeployPlan) syncdriver.Request {
	app := plan.Spec.Application
	s := plan.Spec.Sync

	req := syncdriver.Request{
		Application: app.Name,
		Namespace:   app.Namespace,
		Trigger:     s.ShouldTrigger(),
		Prune:       app.SyncPolicy.Prune,
		Timeout:     time.Duration(s.TimeoutSeconds) * time.Second,
		Interval:    time.Duration(s.PollIntervalSeconds) * time.Second,
		GatePhases:  append([]string(nil), s.GatePhases...),
	}
	for _, h := range plan.GatedHooks() {
		req.Hooks = append(req.Hooks, syncdriver.HookRef{Name: h.Name, Phase: h.Phase})
	}
	return req
}
