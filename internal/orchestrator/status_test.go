package orchestrator

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/ia-eknorr/shipgate/internal/failure"
	"github.com/ia-eknorr/shipgate/internal/kube"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

var _ = Describe("Status ConfigMap", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		k8sClient = fake.NewClientBuilder().WithScheme(kube.NewScheme()).Build()
	})

	It("should create the ConfigMap with ownership labels", func() {
		rec := &StatusRecord{RunID: "run-1", FinishedAt: time.Unix(1700000000, 0).UTC()}
		Expect(WriteStatusConfigMap(ctx, k8sClient, "argocd", "cats-dogs", rec)).To(Succeed())

		cm := &corev1.ConfigMap{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Namespace: "argocd", Name: "shipgate-status-cats-dogs"}, cm)).To(Succeed())
		Expect(cm.Labels).To(HaveKeyWithValue(shiptypes.LabelManagedBy, shiptypes.ManagedByValue))
		Expect(cm.Labels).To(HaveKeyWithValue(shiptypes.LabelApplication, "cats-dogs"))
		Expect(cm.Annotations).To(HaveKeyWithValue(shiptypes.AnnotationRunID, "run-1"))
		Expect(cm.Data).To(HaveKey(StatusKey))
	})

	It("should keep only the latest record", func() {
		first := &StatusRecord{RunID: "run-1", Kind: failure.KindTimeout, ExitCode: 2}
		Expect(WriteStatusConfigMap(ctx, k8sClient, "argocd", "cats-dogs", first)).To(Succeed())

		second := &StatusRecord{
			RunID:     "run-2",
			Operation: &shiptypes.SyncOperation{Application: "cats-dogs", Outcome: shiptypes.SyncOutcomeSucceeded},
		}
		Expect(WriteStatusConfigMap(ctx, k8sClient, "argocd", "cats-dogs", second)).To(Succeed())

		rec, err := ReadStatusConfigMap(ctx, k8sClient, "argocd", "cats-dogs")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.RunID).To(Equal("run-2"))
		Expect(rec.Kind).To(BeEmpty())
		Expect(rec.Operation.Outcome).To(Equal(shiptypes.SyncOutcomeSucceeded))

		cm := &corev1.ConfigMap{}
		Expect(k8sClient.Get(ctx, types.NamespacedName{Namespace: "argocd", Name: StatusConfigMapName("cats-dogs")}, cm)).To(Succeed())
		Expect(cm.Data).To(HaveLen(1))
		Expect(cm.Annotations).To(HaveKeyWithValue(shiptypes.AnnotationRunID, "run-2"))
	})

	It("should return nil when no record exists", func() {
		rec, err := ReadStatusConfigMap(ctx, k8sClient, "argocd", "missing")
		Expect(err).NotTo(HaveOccurred())
		Expect(rec).To(BeNil())
	})
})
