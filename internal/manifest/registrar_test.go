package manifest

import (
	"context"
	"errors"

	"github.com/go-git/go-git/v5/plumbing/transport"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/internal/git"
	"github.com/ia-eknorr/shipgate/internal/kube"
	"github.com/ia-eknorr/shipgate/pkg/conditions"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

type fakeResolver struct {
	commit string
	err    error
	calls  int
}

func (f *fakeResolver) LsRemote(_ context.Context, _, _ string, _ transport.AuthMethod) (git.Result, error) {
	f.calls++
	if f.err != nil {
		return git.Result{}, f.err
	}
	return git.Result{Commit: f.commit}, nil
}

func applicationCRD() *apiextensionsv1.CustomResourceDefinition {
	return &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: v1alpha1.ApplicationCRD},
	}
}

func catsDogs() v1alpha1.ApplicationSpec {
	return v1alpha1.ApplicationSpec{
		Name:      "cats-dogs",
		Namespace: "argocd",
		Project:   "default",
		Source: v1alpha1.SourceSpec{
			RepoURL:        "https://github.com/example/cats-dogs.git",
			Path:           "deploy/k8s",
			TargetRevision: "main",
		},
		Destination: v1alpha1.DestinationSpec{
			Server:    "https://kubernetes.default.svc",
			Namespace: "cats-dogs",
		},
		SyncPolicy: v1alpha1.SyncPolicySpec{AutoSync: true, Prune: true, SelfHeal: true},
	}
}

func getApplication(ctx context.Context, name string) *unstructured.Unstructured {
	app := &unstructured.Unstructured{}
	app.SetGroupVersionKind(kube.ApplicationGVK)
	Expect(k8sClient.Get(ctx, client.ObjectKey{Namespace: "argocd", Name: name}, app)).To(Succeed())
	return app
}

var _ = Describe("Registrar", func() {
	var (
		ctx context.Context
		reg *Registrar
	)

	BeforeEach(func() {
		ctx = context.Background()
		k8sClient = fake.NewClientBuilder().
			WithScheme(kube.NewScheme()).
			WithObjects(applicationCRD()).
			Build()
		reg = &Registrar{Clients: kube.StaticFactory(k8sClient), RunID: "run-1"}
	})

	Context("when the Application does not exist", func() {
		It("should create it and read it back", func() {
			ack, err := reg.Register(ctx, kube.Target{}, catsDogs())
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.Action).To(Equal("created"))
			Expect(ack.ResourceVersion).NotTo(BeEmpty())

			app := getApplication(ctx, "cats-dogs")
			Expect(app.GetLabels()).To(HaveKeyWithValue(shiptypes.LabelManagedBy, shiptypes.ManagedByValue))
			Expect(app.GetAnnotations()).To(HaveKeyWithValue(shiptypes.AnnotationRunID, "run-1"))

			repo, _, _ := unstructured.NestedString(app.Object, "spec", "source", "repoURL")
			Expect(repo).To(Equal("https://github.com/example/cats-dogs.git"))
			selfHeal, _, _ := unstructured.NestedBool(app.Object, "spec", "syncPolicy", "automated", "selfHeal")
			Expect(selfHeal).To(BeTrue())
			opts, _, _ := unstructured.NestedStringSlice(app.Object, "spec", "syncPolicy", "syncOptions")
			Expect(opts).To(ConsistOf("CreateNamespace=true"))
		})
	})

	Context("when registering the same definition twice", func() {
		It("should not write the second time", func() {
			_, err := reg.Register(ctx, kube.Target{}, catsDogs())
			Expect(err).NotTo(HaveOccurred())
			before := getApplication(ctx, "cats-dogs").GetResourceVersion()

			reg.RunID = "run-2"
			ack, err := reg.Register(ctx, kube.Target{}, catsDogs())
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.Action).To(Equal("unchanged"))

			app := getApplication(ctx, "cats-dogs")
			Expect(app.GetResourceVersion()).To(Equal(before))
			Expect(app.GetAnnotations()).To(HaveKeyWithValue(shiptypes.AnnotationRunID, "run-1"))
		})
	})

	Context("when the definition changes", func() {
		It("should update spec in place and keep foreign labels", func() {
			_, err := reg.Register(ctx, kube.Target{}, catsDogs())
			Expect(err).NotTo(HaveOccurred())

			app := getApplication(ctx, "cats-dogs")
			labels := app.GetLabels()
			labels["team"] = "ml"
			app.SetLabels(labels)
			Expect(k8sClient.Update(ctx, app)).To(Succeed())

			spec := catsDogs()
			spec.Source.TargetRevision = "v1.2.0"
			spec.SyncPolicy = v1alpha1.SyncPolicySpec{}
			ack, err := reg.Register(ctx, kube.Target{}, spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.Action).To(Equal("updated"))

			app = getApplication(ctx, "cats-dogs")
			rev, _, _ := unstructured.NestedString(app.Object, "spec", "source", "targetRevision")
			Expect(rev).To(Equal("v1.2.0"))
			_, found, _ := unstructured.NestedMap(app.Object, "spec", "syncPolicy", "automated")
			Expect(found).To(BeFalse())
			Expect(app.GetLabels()).To(HaveKeyWithValue("team", "ml"))
		})
	})

	Context("when the Application CRD is missing", func() {
		It("should fail fatally and write nothing", func() {
			k8sClient = fake.NewClientBuilder().WithScheme(kube.NewScheme()).Build()
			reg.Clients = kube.StaticFactory(k8sClient)

			_, err := reg.Register(ctx, kube.Target{}, catsDogs())
			Expect(err).To(HaveOccurred())
			fe, ok := failure.As(err)
			Expect(ok).To(BeTrue())
			Expect(fe.Kind).To(Equal(failure.KindFatal))
			Expect(fe.Reason).To(Equal(conditions.ReasonCRDMissing))
			Expect(fe.Remediation).To(ContainSubstring("shipgate install"))

			list := &unstructured.UnstructuredList{}
			list.SetGroupVersionKind(kube.ApplicationGVK.GroupVersion().WithKind("ApplicationList"))
			Expect(k8sClient.List(ctx, list)).To(Succeed())
			Expect(list.Items).To(BeEmpty())
		})
	})

	Context("when source verification is enabled", func() {
		It("should record the resolved commit", func() {
			resolver := &fakeResolver{commit: "0123456789abcdef0123456789abcdef01234567"}
			reg.Git = resolver
			spec := catsDogs()
			spec.Source.Verify = true

			ack, err := reg.Register(ctx, kube.Target{}, spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(ack.Commit).To(Equal(resolver.commit))
			Expect(resolver.calls).To(Equal(1))
		})

		It("should refuse to register a missing revision", func() {
			reg.Git = &fakeResolver{err: git.ErrRefNotFound}
			spec := catsDogs()
			spec.Source.Verify = true

			_, err := reg.Register(ctx, kube.Target{}, spec)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, git.ErrRefNotFound)).To(BeTrue())
			fe, _ := failure.As(err)
			Expect(fe.Reason).To(Equal(conditions.ReasonSourceRefNotFound))
			Expect(fe.Remediation).To(ContainSubstring("main"))

			app := &unstructured.Unstructured{}
			app.SetGroupVersionKind(kube.ApplicationGVK)
			err = k8sClient.Get(ctx, client.ObjectKey{Namespace: "argocd", Name: "cats-dogs"}, app)
			Expect(err).To(HaveOccurred())
		})
	})
})
