package kube

import (
	"context"
	"fmt"
	"io"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

const maxLogBytes = 16 << 10

// HookLogs reads the tail of a hook Job's pod logs. Hook pods are often
// deleted by their delete policy, so an empty result is normal.
type HookLogs struct {
	Clientset kubernetes.Interface
	TailLines int64
}

// Fetch returns the logs of every pod created for jobName, newest last.
func (h *HookLogs) Fetch(ctx context.Context, namespace, jobName string) (string, error) {
	pods, err := h.Clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
		LabelSelector: shiptypes.LabelJobName + "=" + jobName,
	})
	if err != nil {
		return "", fmt.Errorf("listing pods for job %s/%s: %w", namespace, jobName, err)
	}

	tail := h.TailLines
	if tail <= 0 {
		tail = 50
	}

	var b strings.Builder
	for _, pod := range pods.Items {
		req := h.Clientset.CoreV1().Pods(namespace).GetLogs(pod.Name, &corev1.PodLogOptions{TailLines: &tail})
		stream, err := req.Stream(ctx)
		if err != nil {
			fmt.Fprintf(&b, "--- %s: logs unavailable: %v\n", pod.Name, err)
			continue
		}
		data, err := io.ReadAll(io.LimitReader(stream, maxLogBytes))
		_ = stream.Close()
		if err != nil {
			fmt.Fprintf(&b, "--- %s: reading logs: %v\n", pod.Name, err)
			continue
		}
		fmt.Fprintf(&b, "--- %s (%s)\n%s\n", pod.Name, pod.Status.Phase, strings.TrimSpace(string(data)))
	}
	return strings.TrimSpace(b.String()), nil
}
