package orchestrator

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	"github.com/ia-eknorr/shipgate/internal/argocd"
	"github.com/ia-eknorr/shipgate/internal/command"
	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/internal/kube"
	"github.com/ia-eknorr/shipgate/internal/manifest"
	"github.com/ia-eknorr/shipgate/internal/packages"
	"github.com/ia-eknorr/shipgate/internal/poll"
	"github.com/ia-eknorr/shipgate/internal/syncdriver"
	"github.com/ia-eknorr/shipgate/pkg/conditions"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

const planDoc = `
apiVersion: shipgate.io/v1alpha1
kind: DeployPlan
metadata:
  name: cats-dogs
spec:
  runtime:
    profile: mlops
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
    hooks:
      - name: cats-dogs-smoke
        verify:
          image: ghcr.io/example/shipgate:0.1.0
          baseURL: http://cats-dogs-api.cats-dogs.svc:8000
  sync:
    timeoutSeconds: 60
    pollIntervalSeconds: 1
`

func applicationCRD() *apiextensionsv1.CustomResourceDefinition {
	return &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: v1alpha1.ApplicationCRD},
	}
}

type spyProvisioner struct {
	calls int
	err   error
}

func (s *spyProvisioner) EnsureRunning(_ context.Context, spec v1alpha1.RuntimeSpec) (shiptypes.RuntimeState, error) {
	s.calls++
	return shiptypes.RuntimeState{Profile: spec.Profile, KubeContext: spec.Profile}, s.err
}

type spyInstaller struct {
	calls   int
	targets []kube.Target
	err     error
}

func (s *spyInstaller) InstallOrUpgrade(_ context.Context, target kube.Target, _ v1alpha1.PackageSpec) error {
	s.calls++
	s.targets = append(s.targets, target)
	return s.err
}

// spyRegistrar counts calls and delegates to the real registrar.
type spyRegistrar struct {
	calls int
	next  ManifestRegistrar
}

func (s *spyRegistrar) Register(ctx context.Context, target kube.Target, spec v1alpha1.ApplicationSpec) (manifest.Ack, error) {
	s.calls++
	return s.next.Register(ctx, target, spec)
}

type spySyncer struct {
	calls int
	reqs  []syncdriver.Request
	op    *shiptypes.SyncOperation
	err   error
}

func (s *spySyncer) Sync(_ context.Context, req syncdriver.Request) (*shiptypes.SyncOperation, error) {
	s.calls++
	s.reqs = append(s.reqs, req)
	return s.op, s.err
}

// recordingLogs records the cluster each hook log read targets.
type recordingLogs struct {
	targets []kube.Target
}

func (r *recordingLogs) Fetch(_ context.Context, target kube.Target, _, _ string) (string, error) {
	r.targets = append(r.targets, target)
	return "prediction label \"horse\" not in class_mapping", nil
}

// failingHookApp serves an application whose gated hook Job failed once a
// sync was requested.
func failingHookApp(call int) (argocd.Application, error) {
	a := argocd.Application{Name: "cats-dogs", Namespace: "argocd", Sync: "OutOfSync", Health: "Missing"}
	if call == 0 {
		return a, nil
	}
	a.Sync, a.Health = "Synced", "Healthy"
	a.Operation = &argocd.OperationState{
		Phase: "Failed", StartedAt: time.Now(), Revision: "abc123",
		Resources: []argocd.ResourceResult{{
			Group: "batch", Kind: "Job", Namespace: "cats-dogs", Name: "cats-dogs-smoke",
			Status: "Synced", HookType: "PostSync", HookPhase: "Failed", SyncPhase: "PostSync",
			Message: "Job has reached the specified backoff limit",
		}},
	}
	return a, nil
}

func passedOp() *shiptypes.SyncOperation {
	return &shiptypes.SyncOperation{
		Application:  "cats-dogs",
		Outcome:      shiptypes.SyncOutcomeSucceeded,
		SyncStatus:   shiptypes.SyncStatusSynced,
		HealthStatus: shiptypes.HealthHealthy,
		Hooks: []shiptypes.HookExecution{
			{Name: "cats-dogs-smoke", Phase: shiptypes.HookPhasePostSync, Verdict: shiptypes.VerdictPass},
		},
	}
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx         context.Context
		plan        *v1alpha1.DeployPlan
		provisioner *spyProvisioner
		installer   *spyInstaller
		registrar   *spyRegistrar
		syncer      *spySyncer
		metrics     *Metrics
		orch        *Orchestrator
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		plan, err = v1alpha1.ParsePlan([]byte(planDoc))
		Expect(err).NotTo(HaveOccurred())

		k8sClient = fake.NewClientBuilder().
			WithScheme(kube.NewScheme()).
			WithObjects(applicationCRD()).
			Build()

		provisioner = &spyProvisioner{}
		installer = &spyInstaller{}
		registrar = &spyRegistrar{next: &manifest.Registrar{Clients: kube.StaticFactory(k8sClient), RunID: "run-1"}}
		syncer = &spySyncer{op: passedOp()}
		metrics = NewMetrics()
		orch = &Orchestrator{
			Provisioner: provisioner,
			Installer:   installer,
			Registrar:   registrar,
			Syncer:      syncer,
			Clients:     kube.StaticFactory(k8sClient),
			Metrics:     metrics,
			RunID:       "run-1",
		}
	})

	Context("when every component succeeds", func() {
		It("should exit 0 and record the run", func() {
			res := orch.Run(ctx, plan, kube.Target{Kubeconfig: "/tmp/kubeconfig"})
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.ExitCode()).To(Equal(0))
			Expect(res.Steps).To(HaveLen(4))
			Expect(res.Registration.Action).To(Equal("created"))

			By("threading the provisioned context explicitly")
			Expect(installer.targets).To(ConsistOf(kube.Target{Kubeconfig: "/tmp/kubeconfig", Context: "mlops"}))
			Expect(res.Target.Context).To(Equal("mlops"))

			By("passing the gated hooks to the sync driver")
			Expect(syncer.reqs).To(HaveLen(1))
			req := syncer.reqs[0]
			Expect(req.Trigger).To(BeTrue())
			Expect(req.Timeout).To(Equal(60 * time.Second))
			Expect(req.Hooks).To(ConsistOf(syncdriver.HookRef{Name: "cats-dogs-smoke", Phase: "PostSync"}))
			Expect(req.Target).To(Equal(kube.Target{Kubeconfig: "/tmp/kubeconfig", Context: "mlops"}))

			By("writing the status record")
			rec, err := ReadStatusConfigMap(ctx, k8sClient, "argocd", "cats-dogs")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec).NotTo(BeNil())
			Expect(rec.RunID).To(Equal("run-1"))
			Expect(rec.ExitCode).To(Equal(0))
			Expect(rec.Operation.Outcome).To(Equal(shiptypes.SyncOutcomeSucceeded))

			Expect(testutil.ToFloat64(metrics.RunTotal.WithLabelValues("cats-dogs", "Succeeded"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.LastRunSuccess)).To(Equal(1.0))
			Expect(testutil.ToFloat64(metrics.HookVerdicts.WithLabelValues("cats-dogs-smoke", "Pass"))).To(Equal(1.0))
		})

		It("should be safe to run again", func() {
			Expect(orch.Run(ctx, plan, kube.Target{}).Err).NotTo(HaveOccurred())
			res := orch.Run(ctx, plan, kube.Target{})
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(res.Registration.Action).To(Equal("unchanged"))
			Expect(provisioner.calls).To(Equal(2))
		})
	})

	Context("when the plan declares no runtime", func() {
		It("should skip provisioning and use the given target", func() {
			plan.Spec.Runtime = nil
			res := orch.Run(ctx, plan, kube.Target{Context: "staging"})
			Expect(res.Err).NotTo(HaveOccurred())
			Expect(provisioner.calls).To(Equal(0))
			Expect(installer.targets).To(ConsistOf(kube.Target{Context: "staging"}))
		})
	})

	Context("when the CRD wait times out", func() {
		It("should never invoke the registrar", func() {
			helm := command.NewFakeRunner()
			helm.On("helm repo list", command.Response{Output: `[{"name":"argo","url":"https://argoproj.github.io/argo-helm"}]`})
			emptyCluster := fake.NewClientBuilder().WithScheme(kube.NewScheme()).Build()
			orch.Installer = &packages.Installer{
				Runner:    helm,
				Clients:   kube.StaticFactory(emptyCluster),
				CRDPoller: poll.Poller{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond},
			}

			res := orch.Run(ctx, plan, kube.Target{})
			Expect(res.Kind()).To(Equal(failure.KindTimeout))
			Expect(res.ExitCode()).To(Equal(2))
			fe, ok := failure.As(res.Err)
			Expect(ok).To(BeTrue())
			Expect(fe.Reason).To(Equal(conditions.ReasonCRDNotEstablished))

			Expect(registrar.calls).To(Equal(0))
			Expect(syncer.calls).To(Equal(0))
			Expect(res.Steps).To(HaveLen(2))
		})
	})

	Context("when a component fails fatally", func() {
		It("should stop at the failing component", func() {
			installer.err = failure.Fatal(ComponentPackage, conditions.ReasonToolMissing, errors.New("helm not found"))

			res := orch.Run(ctx, plan, kube.Target{})
			Expect(res.Kind()).To(Equal(failure.KindFatal))
			Expect(res.ExitCode()).To(Equal(1))
			Expect(registrar.calls).To(Equal(0))
			Expect(syncer.calls).To(Equal(0))

			By("not writing a status record before registration")
			rec, err := ReadStatusConfigMap(ctx, k8sClient, "argocd", "cats-dogs")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec).To(BeNil())
		})

		It("should stop when provisioning fails", func() {
			provisioner.err = failure.Fatal(ComponentRuntime, conditions.ReasonRuntimeStartFailed, errors.New("exit 80"))

			res := orch.Run(ctx, plan, kube.Target{})
			Expect(res.ExitCode()).To(Equal(1))
			Expect(installer.calls).To(Equal(0))
			Expect(res.Runtime).To(BeNil())
		})
	})

	Context("when the verification hook fails", func() {
		It("should exit with the gate failure code and record the operation", func() {
			op := passedOp()
			op.Outcome = shiptypes.SyncOutcomeFailed
			op.Hooks[0].Verdict = shiptypes.VerdictFail
			syncer.op = op
			syncer.err = failure.New(failure.KindGateFailure, ComponentSync, conditions.ReasonHookFailed, nil)

			res := orch.Run(ctx, plan, kube.Target{})
			Expect(res.Kind()).To(Equal(failure.KindGateFailure))
			Expect(res.ExitCode()).To(Equal(3))
			Expect(res.Sync).To(Equal(op))

			rec, err := ReadStatusConfigMap(ctx, k8sClient, "argocd", "cats-dogs")
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Kind).To(Equal(failure.KindGateFailure))
			Expect(rec.Reason).To(Equal(conditions.ReasonHookFailed))
			Expect(rec.Operation.FailedHooks()).To(HaveLen(1))

			Expect(testutil.ToFloat64(metrics.LastRunSuccess)).To(Equal(0.0))
			Expect(testutil.ToFloat64(metrics.ComponentTotal.WithLabelValues(ComponentSync, "GateFailure"))).To(Equal(1.0))
		})

		It("should read hook logs from the provisioned cluster", func() {
			logs := &recordingLogs{}
			orch.Syncer = &syncdriver.Driver{
				Client: &argocd.FakeClient{AppFunc: failingHookApp},
				Logs:   logs,
			}

			res := orch.Run(ctx, plan, kube.Target{Kubeconfig: "/tmp/kubeconfig", Context: "elsewhere"})
			Expect(res.Kind()).To(Equal(failure.KindGateFailure))
			Expect(res.Target.Context).To(Equal("mlops"))

			Expect(logs.targets).To(ConsistOf(kube.Target{Kubeconfig: "/tmp/kubeconfig", Context: "mlops"}))
			Expect(res.Sync.Diagnostics.HookLogs).To(HaveKey("cats-dogs-smoke"))
		})
	})
})
