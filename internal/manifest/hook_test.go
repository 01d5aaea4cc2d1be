package manifest

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	batchv1 "k8s.io/api/batch/v1"
	"sigs.k8s.io/yaml"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

var _ = Describe("HookJobs", func() {
	spec := func() v1alpha1.ApplicationSpec {
		s := catsDogs()
		s.Hooks = []v1alpha1.HookSpec{
			{
				Name: "cats-dogs-smoke", Phase: "PostSync", DeletePolicy: "BeforeHookCreation",
				Verify: &v1alpha1.VerifyJobSpec{
					Image:                 "ghcr.io/example/shipgate:0.1.0",
					BaseURL:               "http://cats-dogs-api.cats-dogs.svc:8000",
					ReadyTimeoutSeconds:   90,
					ActiveDeadlineSeconds: 300,
				},
			},
			{Name: "db-migrate", Phase: "PreSync", DeletePolicy: "HookSucceeded"},
		}
		return s
	}

	It("should render only hooks with a verify block", func() {
		jobs := HookJobs(spec())
		Expect(jobs).To(HaveLen(1))

		job := jobs[0]
		Expect(job.Name).To(Equal("cats-dogs-smoke"))
		Expect(job.Namespace).To(Equal("cats-dogs"))
		Expect(job.Annotations).To(HaveKeyWithValue(shiptypes.AnnotationArgoHook, "PostSync"))
		Expect(job.Annotations).To(HaveKeyWithValue(shiptypes.AnnotationArgoHookDeletePolicy, "BeforeHookCreation"))
		Expect(*job.Spec.BackoffLimit).To(BeZero())
		Expect(*job.Spec.ActiveDeadlineSeconds).To(Equal(int64(300)))

		pod := job.Spec.Template.Spec
		Expect(string(pod.RestartPolicy)).To(Equal("Never"))
		Expect(pod.Containers).To(HaveLen(1))
		Expect(pod.Containers[0].Args).To(Equal([]string{"verify"}))
		Expect(pod.Containers[0].Env).To(ContainElement(HaveField("Value", "http://cats-dogs-api.cats-dogs.svc:8000")))
		Expect(pod.Containers[0].Env).To(ContainElement(HaveField("Value", "90")))
	})

	It("should render a stream that decodes back to Jobs", func() {
		s := spec()
		second := s.Hooks[0]
		second.Name = "cats-dogs-metrics"
		s.Hooks = append(s.Hooks, second)

		out, err := RenderHooks(s)
		Expect(err).NotTo(HaveOccurred())

		docs := strings.Split(string(out), "---\n")
		Expect(docs).To(HaveLen(2))
		var names []string
		for _, doc := range docs {
			job := &batchv1.Job{}
			Expect(yaml.UnmarshalStrict([]byte(doc), job)).To(Succeed())
			Expect(job.Kind).To(Equal("Job"))
			names = append(names, job.Name)
		}
		Expect(names).To(Equal([]string{"cats-dogs-smoke", "cats-dogs-metrics"}))
	})

	It("should render nothing when no hook has a verify block", func() {
		out, err := RenderHooks(catsDogs())
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(BeEmpty())
	})
})
