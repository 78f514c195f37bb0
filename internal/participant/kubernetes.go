package participant

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"

	"conductor/internal/model"
	"conductor/pkg/logging"
)

// Labels and annotations set on element ConfigMaps.
const (
	LabelManagedBy         = "app.kubernetes.io/managed-by"
	LabelInstance          = "conductor.io/instance"
	LabelComposition       = "conductor.io/composition"
	LabelElementDefinition = "conductor.io/element-definition"
	LabelParticipant       = "conductor.io/participant"
	AnnotationLockState    = "conductor.io/lock-state"
	AnnotationPhase        = "conductor.io/migration-phase"

	managedBy = "conductor"
)

// NewKubernetesClient builds a clientset from kubeconfig, or from the
// standard discovery (in-cluster config, $KUBECONFIG, ~/.kube/config) when
// kubeconfig is empty.
func NewKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	var (
		restConfig *rest.Config
		err        error
	)
	if kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		restConfig, err = ctrl.GetConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get Kubernetes config: %w", err)
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return client, nil
}

// KubernetesAdapter keeps one ConfigMap per element instance in a namespace.
// The element properties become the ConfigMap data; lock state and
// migration phase are annotations.
type KubernetesAdapter struct {
	client        kubernetes.Interface
	namespace     string
	participantID string
}

// NewKubernetesAdapter creates an adapter writing to namespace.
func NewKubernetesAdapter(client kubernetes.Interface, namespace, participantID string) *KubernetesAdapter {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	return &KubernetesAdapter{client: client, namespace: namespace, participantID: participantID}
}

// ConfigMapName returns the name of the ConfigMap backing an element.
func ConfigMapName(elementID string) string {
	return "conductor-" + elementID
}

// Prime checks that the target namespace exists.
func (k *KubernetesAdapter) Prime(ctx context.Context, compositionID string, el model.ElementDefinitionState) error {
	if _, err := k.client.CoreV1().Namespaces().Get(ctx, k.namespace, metav1.GetOptions{}); err != nil {
		return fmt.Errorf("namespace %s: %w", k.namespace, err)
	}
	logging.Debug("Kubernetes", "Primed %s/%s in namespace %s", compositionID, el.ElementDefinitionID, k.namespace)
	return nil
}

// Deprime has nothing to remove: element ConfigMaps are owned by instances.
func (k *KubernetesAdapter) Deprime(context.Context, string, model.ElementDefinitionState) error {
	return nil
}

func (k *KubernetesAdapter) Deploy(ctx context.Context, target Target, el model.ElementInstance) (model.Properties, error) {
	cm, err := k.apply(ctx, target.CompositionID, target, el, func(cm *corev1.ConfigMap) {
		cm.Annotations[AnnotationLockState] = string(model.LockStateLocked)
	})
	if err != nil {
		return nil, err
	}
	k.recordEvent(ctx, cm, ReasonElementDeployed, el.ElementID)
	return k.out(cm), nil
}

func (k *KubernetesAdapter) Undeploy(ctx context.Context, _ Target, el model.ElementInstance) error {
	err := k.client.CoreV1().ConfigMaps(k.namespace).Delete(ctx, ConfigMapName(el.ElementID), metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting ConfigMap %s: %w", ConfigMapName(el.ElementID), err)
	}
	return nil
}

func (k *KubernetesAdapter) Lock(ctx context.Context, _ Target, el model.ElementInstance) error {
	return k.annotate(ctx, el, AnnotationLockState, string(model.LockStateLocked), ReasonElementLocked)
}

func (k *KubernetesAdapter) Unlock(ctx context.Context, _ Target, el model.ElementInstance) error {
	return k.annotate(ctx, el, AnnotationLockState, string(model.LockStateUnlocked), ReasonElementUnlocked)
}

func (k *KubernetesAdapter) Update(ctx context.Context, target Target, el model.ElementInstance) (model.Properties, error) {
	cm, err := k.apply(ctx, target.CompositionID, target, el, nil)
	if err != nil {
		return nil, err
	}
	k.recordEvent(ctx, cm, ReasonElementUpdated, el.ElementID)
	return k.out(cm), nil
}

func (k *KubernetesAdapter) Migrate(ctx context.Context, target Target, el model.ElementInstance) (model.Properties, error) {
	cm, err := k.apply(ctx, target.CompositionTargetID, target, el, func(cm *corev1.ConfigMap) {
		cm.Annotations[AnnotationPhase] = strconv.Itoa(target.Phase)
	})
	if err != nil {
		return nil, err
	}
	k.recordEvent(ctx, cm, ReasonElementMigrated, el.ElementID)
	return k.out(cm), nil
}

// apply creates or updates the ConfigMap of el with its current properties.
func (k *KubernetesAdapter) apply(ctx context.Context, compositionID string, target Target, el model.ElementInstance, mutate func(*corev1.ConfigMap)) (*corev1.ConfigMap, error) {
	data, err := encodeProperties(el.Properties)
	if err != nil {
		return nil, err
	}
	name := ConfigMapName(el.ElementID)
	configMaps := k.client.CoreV1().ConfigMaps(k.namespace)

	cm, err := configMaps.Get(ctx, name, metav1.GetOptions{})
	switch {
	case apierrors.IsNotFound(err):
		cm = &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: k.namespace}}
	case err != nil:
		return nil, fmt.Errorf("reading ConfigMap %s: %w", name, err)
	}
	exists := err == nil

	if cm.Labels == nil {
		cm.Labels = make(map[string]string)
	}
	if cm.Annotations == nil {
		cm.Annotations = make(map[string]string)
	}
	cm.Labels[LabelManagedBy] = managedBy
	cm.Labels[LabelInstance] = target.InstanceID
	cm.Labels[LabelComposition] = compositionID
	cm.Labels[LabelElementDefinition] = el.DefinitionID
	cm.Labels[LabelParticipant] = k.participantID
	cm.Data = data
	if mutate != nil {
		mutate(cm)
	}

	if exists {
		cm, err = configMaps.Update(ctx, cm, metav1.UpdateOptions{})
	} else {
		cm, err = configMaps.Create(ctx, cm, metav1.CreateOptions{})
	}
	if err != nil {
		return nil, fmt.Errorf("writing ConfigMap %s: %w", name, err)
	}
	logging.Debug("Kubernetes", "Applied ConfigMap %s/%s for element %s", k.namespace, name, el.ElementID)
	return cm, nil
}

func (k *KubernetesAdapter) annotate(ctx context.Context, el model.ElementInstance, key, value string, reason EventReason) error {
	name := ConfigMapName(el.ElementID)
	configMaps := k.client.CoreV1().ConfigMaps(k.namespace)
	cm, err := configMaps.Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("reading ConfigMap %s: %w", name, err)
	}
	if cm.Annotations == nil {
		cm.Annotations = make(map[string]string)
	}
	cm.Annotations[key] = value
	cm, err = configMaps.Update(ctx, cm, metav1.UpdateOptions{})
	if err != nil {
		return fmt.Errorf("writing ConfigMap %s: %w", name, err)
	}
	k.recordEvent(ctx, cm, reason, el.ElementID)
	return nil
}

func (k *KubernetesAdapter) out(cm *corev1.ConfigMap) model.Properties {
	return model.Properties{
		"configMap":       cm.Name,
		"namespace":       cm.Namespace,
		"resourceVersion": cm.ResourceVersion,
	}
}

// encodeProperties flattens properties into ConfigMap data. Strings are
// stored as is, everything else as JSON.
func encodeProperties(props model.Properties) (map[string]string, error) {
	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	data := make(map[string]string, len(props))
	for _, key := range keys {
		if s, ok := props[key].(string); ok {
			data[key] = s
			continue
		}
		raw, err := json.Marshal(props[key])
		if err != nil {
			return nil, fmt.Errorf("encoding property %s: %w", key, err)
		}
		data[key] = string(raw)
	}
	return data, nil
}
