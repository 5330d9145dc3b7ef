// Package eviction requests eviction of pods that the orchestrator's sliding
// failure window has condemned, fanning the per-pod calls out concurrently.
package eviction

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	corev1typed "k8s.io/client-go/kubernetes/typed/core/v1"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
)

// Evicter requests eviction of the given pods, issuing calls concurrently
// and waiting for all of them; the first error encountered is returned. A
// failure to evict one pod does not prevent or cancel the others.
type Evicter interface {
	Evict(ctx context.Context, pods []autocranetypes.PodIdentifier) error
}

type podEvicter struct {
	log  logr.Logger
	pods func(namespace string) corev1typed.PodInterface
}

// New builds an Evicter backed by the Kubernetes eviction subresource.
func New(log logr.Logger, pods func(namespace string) corev1typed.PodInterface) Evicter {
	return &podEvicter{log: log, pods: pods}
}

func (e *podEvicter) Evict(ctx context.Context, ids []autocranetypes.PodIdentifier) error {
	var eg errgroup.Group

	for _, id := range ids {
		id := id
		eg.Go(func() error {
			eviction := &policyv1.Eviction{
				ObjectMeta: metav1.ObjectMeta{
					Name:      id.Name,
					Namespace: id.Namespace,
				},
			}

			if err := e.pods(id.Namespace).EvictV1(ctx, eviction); err != nil {
				e.log.Error(err, "Pod eviction failed", "pod", id.Name, "namespace", id.Namespace)
				return fmt.Errorf("cannot evict pod %s: %w", id, err)
			}

			e.log.Info("Pod evicted", "pod", id.Name, "namespace", id.Namespace)
			return nil
		})
	}

	return eg.Wait()
}
