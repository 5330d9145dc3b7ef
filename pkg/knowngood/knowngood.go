// Package knowngood computes and persists, per namespace, the known-good
// version of each data repository: the newest version a quorum of pods has
// been conservatively observed running.
package knowngood

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
	"github.com/dominodatalab/autocrane/pkg/versionstore"
)

// Accessor computes and persists the known-good version set for a namespace.
type Accessor interface {
	GetOrUpdate(ctx context.Context, namespace string, manifest autocranetypes.DataRepositoryManifest, requests []autocranetypes.PodDataRequestInfo) (autocranetypes.VersionSet, error)
}

type accessor struct {
	log   logr.Logger
	store *versionstore.Store
}

// New builds an Accessor backed by store.
func New(log logr.Logger, store *versionstore.Store) Accessor {
	return &accessor{log: log, store: store}
}

func (a *accessor) GetOrUpdate(ctx context.Context, namespace string, manifest autocranetypes.DataRepositoryManifest, requests []autocranetypes.PodDataRequestInfo) (autocranetypes.VersionSet, error) {
	persisted, err := a.store.Read(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("cannot read known-good set for namespace %q: %w", namespace, err)
	}

	tallies := map[string]map[string]int{}
	for _, pod := range requests {
		for _, repo := range pod.DataSources {
			details, ok := pod.Requests[repo].Decode()
			if !ok || !manifest.Contains(repo, details.Hash) {
				continue
			}

			if tallies[repo] == nil {
				tallies[repo] = map[string]int{}
			}
			tallies[repo][details.Hash]++
		}
	}

	result := autocranetypes.VersionSet{}
	for repo := range manifest {
		current, have := persisted[repo]
		if !have || !manifest.Contains(repo, current) {
			if oldest, ok := manifest.Oldest(repo); ok {
				current = oldest.Version
			} else {
				continue
			}
		}

		if promoted, ok := quorumCandidate(manifest, repo, tallies[repo], current); ok {
			current = promoted
		}

		result[repo] = current
	}

	if err := a.store.Write(ctx, namespace, result); err != nil {
		return nil, fmt.Errorf("cannot persist known-good set for namespace %q: %w", namespace, err)
	}

	return result, nil
}

// quorumCandidate returns the newest version newer than current that a
// strict majority of observed pods report holding, if any.
func quorumCandidate(manifest autocranetypes.DataRepositoryManifest, repo string, tally map[string]int, current string) (string, bool) {
	if len(tally) == 0 {
		return "", false
	}

	total := 0
	for _, count := range tally {
		total += count
	}
	quorum := total/2 + 1

	currentIdx := manifest.IndexOf(repo, current)
	entries := manifest[repo]

	for i := len(entries) - 1; i > currentIdx; i-- {
		if tally[entries[i].Version] >= quorum {
			return entries[i].Version, true
		}
	}

	return "", false
}
