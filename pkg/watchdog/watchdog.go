// Package watchdog reports which pods in a namespace are currently failing
// at least one configured watchdog health probe.
package watchdog

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	corev1typed "k8s.io/client-go/kubernetes/typed/core/v1"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
	"github.com/dominodatalab/autocrane/pkg/jsonpatch"
)

// Getter returns the pods currently failing any watchdog in a namespace.
type Getter interface {
	Get(ctx context.Context, namespace string) ([]autocranetypes.PodIdentifier, error)
}

type conditionGetter struct {
	log        logr.Logger
	pods       func(namespace string) corev1typed.PodInterface
	conditions []corev1.PodConditionType
}

// NewConditionGetter builds a Getter that treats any of conditionNames as a
// watchdog: a pod is failing if one of those conditions is present and not
// corev1.ConditionTrue.
func NewConditionGetter(log logr.Logger, pods func(namespace string) corev1typed.PodInterface, conditionNames []string) Getter {
	conditions := make([]corev1.PodConditionType, 0, len(conditionNames))
	for _, name := range conditionNames {
		conditions = append(conditions, corev1.PodConditionType(name))
	}

	return &conditionGetter{log: log, pods: pods, conditions: conditions}
}

func (g *conditionGetter) Get(ctx context.Context, namespace string) ([]autocranetypes.PodIdentifier, error) {
	list, err := g.pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("cannot list pods in namespace %q: %w", namespace, err)
	}

	var failing []autocranetypes.PodIdentifier
	for _, pod := range list.Items {
		ops := g.failingConditionDiff(pod)
		if len(ops) == 0 {
			continue
		}

		g.log.V(1).Info("Pod failing watchdog", "pod", pod.Name, "namespace", pod.Namespace, "conditions", ops)
		failing = append(failing, autocranetypes.PodIdentifier{Namespace: pod.Namespace, Name: pod.Name})
	}

	return failing, nil
}

// failingConditionDiff renders, for diagnostic logging, the watchdog
// conditions on pod that are not currently healthy, reusing the JSON-patch
// operation shape so log lines are consistent with other annotation/condition
// diffs emitted by this controller.
func (g *conditionGetter) failingConditionDiff(pod corev1.Pod) jsonpatch.Operations {
	var ops jsonpatch.Operations

	for _, want := range g.conditions {
		for _, cond := range pod.Status.Conditions {
			if cond.Type != want {
				continue
			}
			if cond.Status != corev1.ConditionTrue {
				ops = append(ops, jsonpatch.NewReplaceOperation(
					fmt.Sprintf("/status/conditions/%s", want), string(cond.Status),
				))
			}
		}
	}

	return ops
}
