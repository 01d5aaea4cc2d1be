package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/ia-eknorr/shipgate/internal/failure"
	shiptypes "github.com/ia-eknorr/shipgate/pkg/types"
)

// StatusKey is the ConfigMap data key holding the latest record.
const StatusKey = "status.json"

// StatusRecord is the persisted summary of the latest run.
type StatusRecord struct {
	RunID      string                   `json:"runID"`
	Kind       failure.Kind             `json:"kind,omitempty"`
	ExitCode   int                      `json:"exitCode"`
	Reason     string                   `json:"reason,omitempty"`
	Message    string                   `json:"message,omitempty"`
	FinishedAt time.Time                `json:"finishedAt"`
	Operation  *shiptypes.SyncOperation `json:"operation,omitempty"`
}

// StatusConfigMapName returns the ConfigMap name for an application.
func StatusConfigMapName(application string) string {
	return "shipgate-status-" + application
}

// WriteStatusConfigMap replaces the status record of application.
// Retries on conflict up to 3 times.
func WriteStatusConfigMap(ctx context.Context, c client.Client, namespace, application string, rec *StatusRecord) error {
	cmName := StatusConfigMapName(application)
	key := types.NamespacedName{Name: cmName, Namespace: namespace}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling status: %w", err)
	}

	for range 3 {
		cm := &corev1.ConfigMap{}
		err := c.Get(ctx, key, cm)

		if errors.IsNotFound(err) {
			cm = &corev1.ConfigMap{
				ObjectMeta: metav1.ObjectMeta{
					Name:      cmName,
					Namespace: namespace,
					Labels: map[string]string{
						shiptypes.LabelManagedBy:   shiptypes.ManagedByValue,
						shiptypes.LabelApplication: application,
					},
					Annotations: map[string]string{
						shiptypes.AnnotationRunID: rec.RunID,
					},
				},
				Data: map[string]string{
					StatusKey: string(data),
				},
			}
			if createErr := c.Create(ctx, cm); createErr != nil {
				if errors.IsAlreadyExists(createErr) {
					continue
				}
				return fmt.Errorf("creating status ConfigMap: %w", createErr)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting status ConfigMap: %w", err)
		}

		// Only the latest record is kept.
		cm.Data = map[string]string{StatusKey: string(data)}
		if cm.Annotations == nil {
			cm.Annotations = map[string]string{}
		}
		cm.Annotations[shiptypes.AnnotationRunID] = rec.RunID

		if updateErr := c.Update(ctx, cm); updateErr != nil {
			if errors.IsConflict(updateErr) {
				continue
			}
			return fmt.Errorf("updating status ConfigMap: %w", updateErr)
		}
		return nil
	}

	return fmt.Errorf("failed to write status after 3 retries")
}

// ReadStatusConfigMap returns the latest record of application, or nil when none exists.
func ReadStatusConfigMap(ctx context.Context, c client.Client, namespace, application string) (*StatusRecord, error) {
	cm := &corev1.ConfigMap{}
	err := c.Get(ctx, types.NamespacedName{Name: StatusConfigMapName(application), Namespace: namespace}, cm)
	if errors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting status ConfigMap: %w", err)
	}
	raw, ok := cm.Data[StatusKey]
	if !ok {
		return nil, nil
	}
	rec := &StatusRecord{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return nil, fmt.Errorf("decoding status record: %w", err)
	}
	return rec, nil
}
