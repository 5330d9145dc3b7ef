// Package latest computes and persists, per namespace, the rollout target
// version (the manifest's newest entry) for each data repository.
package latest

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
	"github.com/dominodatalab/autocrane/pkg/versionstore"
)

// Accessor computes and persists the latest-version set for a namespace.
type Accessor interface {
	GetOrUpdate(ctx context.Context, namespace string, manifest autocranetypes.DataRepositoryManifest) (autocranetypes.VersionSet, error)
}

type accessor struct {
	log   logr.Logger
	store *versionstore.Store
}

// New builds an Accessor backed by store.
func New(log logr.Logger, store *versionstore.Store) Accessor {
	return &accessor{log: log, store: store}
}

func (a *accessor) GetOrUpdate(ctx context.Context, namespace string, manifest autocranetypes.DataRepositoryManifest) (autocranetypes.VersionSet, error) {
	persisted, err := a.store.Read(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("cannot read latest-version set for namespace %q: %w", namespace, err)
	}

	result := autocranetypes.VersionSet{}
	for repo := range manifest {
		newest, ok := manifest.Latest(repo)
		if !ok {
			continue
		}

		// Never regress: if the persisted pointer is still a valid manifest
		// entry and is not older than the computed newest, keep it.
		if current, have := persisted[repo]; have && manifest.Contains(repo, current) {
			if manifest.IndexOf(repo, current) >= manifest.IndexOf(repo, newest.Version) {
				result[repo] = current
				continue
			}
		}

		result[repo] = newest.Version
	}

	if err := a.store.Write(ctx, namespace, result); err != nil {
		return nil, fmt.Errorf("cannot persist latest-version set for namespace %q: %w", namespace, err)
	}

	return result, nil
}
