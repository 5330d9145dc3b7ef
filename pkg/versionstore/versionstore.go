// Package versionstore persists a per-namespace repo->version mapping as
// annotations on a sentinel ConfigMap, shared by the known-good and latest
// version accessors. Using server-side apply means the two accessors (and
// any other controller) can write their own annotation keys without
// clobbering each other.
package versionstore

import (
	"context"
	"fmt"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	corev1ac "k8s.io/client-go/applyconfigurations/core/v1"
	corev1typed "k8s.io/client-go/kubernetes/typed/core/v1"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
)

const fieldManagerName = "autocrane-orchestrator"

// Store reads and writes a single annotation-key-prefixed version set on a
// namespace's sentinel ConfigMap.
type Store struct {
	configMaps func(namespace string) corev1typed.ConfigMapInterface
	name       string
	prefix     string
}

// New builds a Store. name is the sentinel ConfigMap's name within the
// target namespace; prefix distinguishes the annotation keys this store
// owns (e.g. "knowngood" vs "latest") from any other consumer's.
func New(configMaps func(namespace string) corev1typed.ConfigMapInterface, name, prefix string) *Store {
	return &Store{configMaps: configMaps, name: name, prefix: prefix}
}

func (s *Store) key(repo string) string {
	return fmt.Sprintf("data.autocrane/%s-%s", s.prefix, repo)
}

// Read returns the currently persisted version set, or an empty set if the
// sentinel object does not exist yet.
func (s *Store) Read(ctx context.Context, namespace string) (autocranetypes.VersionSet, error) {
	cm, err := s.configMaps(namespace).Get(ctx, s.name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		return autocranetypes.VersionSet{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read version store %q in namespace %q: %w", s.name, namespace, err)
	}

	out := autocranetypes.VersionSet{}
	keyPrefix := "data.autocrane/" + s.prefix + "-"
	for k, v := range cm.Annotations {
		if repo, ok := strings.CutPrefix(k, keyPrefix); ok {
			out[repo] = v
		}
	}

	return out, nil
}

// Write persists versions. Server-side apply creates the sentinel ConfigMap
// on first use, same as any other namespace's apply-only object.
func (s *Store) Write(ctx context.Context, namespace string, versions autocranetypes.VersionSet) error {
	client := s.configMaps(namespace)

	cac := corev1ac.ConfigMap(s.name, namespace)
	annotations := make(map[string]string, len(versions))
	for repo, version := range versions {
		annotations[s.key(repo)] = version
	}
	cac.WithAnnotations(annotations)

	// Each store applies under its own field manager so an apply that omits
	// another store's keys does not remove them.
	fieldManager := fieldManagerName + "-" + s.prefix
	if _, err := client.Apply(ctx, cac, metav1.ApplyOptions{FieldManager: fieldManager, Force: true}); err != nil {
		return fmt.Errorf("cannot write version store %q in namespace %q: %w", s.name, namespace, err)
	}

	return nil
}
