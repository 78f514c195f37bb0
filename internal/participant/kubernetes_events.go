package participant

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"conductor/pkg/logging"
)

// EventReason is the reason of a Kubernetes Event recorded on an element
// ConfigMap.
type EventReason string

const (
	ReasonElementDeployed EventReason = "ElementDeployed"
	ReasonElementUpdated  EventReason = "ElementUpdated"
	ReasonElementMigrated EventReason = "ElementMigrated"
	ReasonElementLocked   EventReason = "ElementLocked"
	ReasonElementUnlocked EventReason = "ElementUnlocked"
)

var eventMessages = map[EventReason]string{
	ReasonElementDeployed: "Element %s of instance %s deployed by %s",
	ReasonElementUpdated:  "Element %s of instance %s updated by %s",
	ReasonElementMigrated: "Element %s of instance %s migrated by %s",
	ReasonElementLocked:   "Element %s of instance %s locked by %s",
	ReasonElementUnlocked: "Element %s of instance %s unlocked by %s",
}

// recordEvent attaches a Normal event to cm. A failure is logged and
// otherwise ignored; the element operation itself succeeded.
func (k *KubernetesAdapter) recordEvent(ctx context.Context, cm *corev1.ConfigMap, reason EventReason, elementID string) {
	now := metav1.Now()
	event := &corev1.Event{
		ObjectMeta: metav1.ObjectMeta{
			Name:         cm.Name + "." + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
			Namespace:    cm.Namespace,
		},
		InvolvedObject: corev1.ObjectReference{
			APIVersion:      "v1",
			Kind:            "ConfigMap",
			Name:            cm.Name,
			Namespace:       cm.Namespace,
			UID:             cm.UID,
			ResourceVersion: cm.ResourceVersion,
		},
		Reason:         string(reason),
		Message:        fmt.Sprintf(eventMessages[reason], elementID, cm.Labels[LabelInstance], k.participantID),
		Type:           corev1.EventTypeNormal,
		Source:         corev1.EventSource{Component: managedBy, Host: k.participantID},
		FirstTimestamp: now,
		LastTimestamp:  now,
		Count:          1,
	}
	if _, err := k.client.CoreV1().Events(cm.Namespace).Create(ctx, event, metav1.CreateOptions{}); err != nil {
		logging.Warn("Kubernetes", "Failed to record %s event for ConfigMap %s/%s: %v", reason, cm.Namespace, cm.Name, err)
	}
}
