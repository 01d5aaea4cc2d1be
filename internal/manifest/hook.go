package manifest

import (
	"bytes"
	"fmt"
	"strconv"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"github.com/ia-eknorr/shipgate/api/v1alpha1"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

const verifyContainer = "verify"

// HookJobs returns a Job for every hook with a verify block, in declaration order.
func HookJobs(spec v1alpha1.ApplicationSpec) []*batchv1.Job {
	var jobs []*batchv1.Job
	for _, h := range spec.Hooks {
		if h.Verify == nil {
			continue
		}
		jobs = append(jobs, hookJob(spec, h))
	}
	return jobs
}

func hookJob(spec v1alpha1.ApplicationSpec, h v1alpha1.HookSpec) *batchv1.Job {
	v := h.Verify
	labels := map[string]string{
		shiptypes.LabelManagedBy:   shiptypes.ManagedByValue,
		shiptypes.LabelApplication: spec.Name,
	}

	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      h.Name,
			Namespace: spec.Destination.Namespace,
			Labels:    labels,
			Annotations: map[string]string{
				shiptypes.AnnotationArgoHook:             h.Phase,
				shiptypes.AnnotationArgoHookDeletePolicy: h.DeletePolicy,
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:          ptr.To(v.BackoffLimit),
			ActiveDeadlineSeconds: ptr.To(v.ActiveDeadlineSeconds),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:  verifyContainer,
						Image: v.Image,
						Args:  []string{"verify"},
						Env: []corev1.EnvVar{
							{Name: "VERIFY_BASE_URL", Value: v.BaseURL},
							{Name: "VERIFY_READY_TIMEOUT", Value: strconv.Itoa(int(v.ReadyTimeoutSeconds))},
						},
					}},
				},
			},
		},
	}
}

// RenderHooks writes the hook Jobs as a multi-document YAML stream.
func RenderHooks(spec v1alpha1.ApplicationSpec) ([]byte, error) {
	var buf bytes.Buffer
	for i, job := range HookJobs(spec) {
		data, err := yaml.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("encoding hook %s: %w", job.Name, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}
