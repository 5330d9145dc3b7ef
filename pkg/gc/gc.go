// Package gc deletes workload-scoped ConfigMaps once they pass their TTL.
// Download agents stage per-pod extraction bookkeeping as ConfigMaps marked
// with an expiry annotation; this package is the only thing that reaps them.
package gc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	corev1typed "k8s.io/client-go/kubernetes/typed/core/v1"
)

// ExpiresAtAnnotation marks a ConfigMap as workload-scoped and carries its
// expiry as an RFC3339 timestamp. Objects without this annotation are never
// touched by Delete.
const ExpiresAtAnnotation = "data.autocrane/expires-at"

// Deleter removes workload-scoped objects in namespace whose TTL has
// elapsed as of now.
type Deleter interface {
	Delete(ctx context.Context, namespace string, now time.Time) error
}

type configMapDeleter struct {
	log        logr.Logger
	configMaps func(namespace string) corev1typed.ConfigMapInterface
}

// New builds a Deleter backed by namespaced ConfigMaps.
func New(log logr.Logger, configMaps func(namespace string) corev1typed.ConfigMapInterface) Deleter {
	return &configMapDeleter{log: log, configMaps: configMaps}
}

func (d *configMapDeleter) Delete(ctx context.Context, namespace string, now time.Time) error {
	log := d.log.WithValues("namespace", namespace)

	list, err := d.configMaps(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("cannot list configmaps in namespace %q: %w", namespace, err)
	}

	var errs []error
	for _, cm := range list.Items {
		raw, ok := cm.Annotations[ExpiresAtAnnotation]
		if !ok {
			continue
		}

		expiresAt, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			log.Error(err, "Malformed expiry annotation, skipping", "configMap", cm.Name, "value", raw)
			continue
		}

		if now.Before(expiresAt) {
			continue
		}

		if err := d.configMaps(namespace).Delete(ctx, cm.Name, metav1.DeleteOptions{}); err != nil {
			log.Error(err, "Failed to delete expired object", "configMap", cm.Name)
			errs = append(errs, fmt.Errorf("cannot delete configmap %s/%s: %w", namespace, cm.Name, err))
			continue
		}

		log.Info("Deleted expired object", "configMap", cm.Name, "expiresAt", expiresAt)
	}

	return errors.Join(errs...)
}
