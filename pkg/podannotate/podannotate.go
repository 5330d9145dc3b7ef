// Package podannotate writes the per-pod data-request annotation batch
// using a server-side-apply patch, so two controllers writing disjoint
// annotation keys never conflict.
package podannotate

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	corev1ac "k8s.io/client-go/applyconfigurations/core/v1"
	corev1typed "k8s.io/client-go/kubernetes/typed/core/v1"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
)

const fieldManagerName = "autocrane-orchestrator"

// RequestAnnotationKey returns the annotation key AutoCrane uses to convey
// the next download request for repo.
func RequestAnnotationKey(repo string) string {
	return "data.autocrane/req-" + repo
}

// Annotation is a single key/value pair to stamp onto a pod.
type Annotation struct {
	Key   string
	Value string
}

// Putter writes an annotation batch to a single pod, patch semantics.
type Putter interface {
	Put(ctx context.Context, pod autocranetypes.PodIdentifier, annotations []Annotation) error
}

type podPutter struct {
	log  logr.Logger
	pods func(namespace string) corev1typed.PodInterface
}

// NewPutter builds a Putter backed by the core v1 pod client.
func NewPutter(log logr.Logger, pods func(namespace string) corev1typed.PodInterface) Putter {
	return &podPutter{log: log, pods: pods}
}

func (p *podPutter) Put(ctx context.Context, pod autocranetypes.PodIdentifier, annotations []Annotation) error {
	if len(annotations) == 0 {
		return nil
	}

	client := p.pods(pod.Namespace)

	existing, err := client.Get(ctx, pod.Name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("cannot get pod %s: %w", pod, err)
	}

	pac, err := corev1ac.ExtractPod(existing, fieldManagerName)
	if err != nil {
		return fmt.Errorf("cannot extract pod config for %s: %w", pod, err)
	}

	values := make(map[string]string, len(annotations))
	for _, a := range annotations {
		values[a.Key] = a.Value
	}
	pac.WithAnnotations(values)

	p.log.V(1).Info("Patching pod annotations", "pod", pod, "annotations", values)

	if _, err := client.Apply(ctx, pac, metav1.ApplyOptions{FieldManager: fieldManagerName, Force: true}); err != nil {
		return fmt.Errorf("cannot patch annotations on pod %s: %w", pod, err)
	}

	return nil
}
