// Package manifest loads the global data-repository version manifest: for
// each repo, an ordered (newest-last) list of {version, timestamp} entries.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	corev1typed "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/util/retry"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
)

// Fetcher loads the current manifest.
type Fetcher interface {
	Fetch(ctx context.Context) (autocranetypes.DataRepositoryManifest, error)
}

// wireEntry is the JSON shape stored per-repo in the manifest ConfigMap.
type wireEntry struct {
	Version   string `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

type configMapFetcher struct {
	log          logr.Logger
	configMaps   corev1typed.ConfigMapInterface
	configMapKey string
}

// NewConfigMapFetcher builds a Fetcher that reads the manifest from a
// ConfigMap, one JSON array of wireEntry per repo, keyed by repo name.
func NewConfigMapFetcher(log logr.Logger, configMaps corev1typed.ConfigMapInterface, configMapName string) Fetcher {
	return &configMapFetcher{log: log, configMaps: configMaps, configMapKey: configMapName}
}

func (f *configMapFetcher) Fetch(ctx context.Context) (autocranetypes.DataRepositoryManifest, error) {
	var data map[string]string
	err := retry.OnError(retry.DefaultBackoff, isTransient, func() error {
		obj, getErr := f.configMaps.Get(ctx, f.configMapKey, metav1.GetOptions{})
		if getErr != nil {
			return getErr
		}
		data = obj.Data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot fetch manifest configmap %q: %w", f.configMapKey, err)
	}

	manifest := autocranetypes.DataRepositoryManifest{}
	for repo, raw := range data {
		var entries []wireEntry
		if jsonErr := json.Unmarshal([]byte(raw), &entries); jsonErr != nil {
			f.log.Error(jsonErr, "Skipping malformed manifest entry", "repo", repo)
			continue
		}

		sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })

		converted := make([]autocranetypes.ManifestEntry, 0, len(entries))
		seen := map[string]bool{}
		for _, e := range entries {
			if seen[e.Version] {
				continue
			}
			seen[e.Version] = true
			converted = append(converted, autocranetypes.ManifestEntry{
				Version:   e.Version,
				Timestamp: unixToTime(e.Timestamp),
			})
		}

		manifest[repo] = converted
	}

	return manifest, nil
}

// isTransient classifies only conflict, timeout, too-many-requests and
// internal server errors as worth retrying; a missing ConfigMap or a
// malformed request is not.
func isTransient(err error) bool {
	return apierrors.IsConflict(err) || apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) ||
		apierrors.IsTooManyRequests(err) || apierrors.IsInternalError(err)
}

func unixToTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
