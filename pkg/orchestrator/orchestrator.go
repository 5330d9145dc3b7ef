// Package orchestrator implements the control loop that composes every
// other AutoCrane collaborator: fetch the manifest, refresh known-good and
// latest per namespace, consult the upgrade oracle, patch pod annotations,
// and evict pods that persistently fail their watchdogs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
	"github.com/dominodatalab/autocrane/pkg/clock"
	"github.com/dominodatalab/autocrane/pkg/config"
	"github.com/dominodatalab/autocrane/pkg/eviction"
	"github.com/dominodatalab/autocrane/pkg/gc"
	"github.com/dominodatalab/autocrane/pkg/knowngood"
	"github.com/dominodatalab/autocrane/pkg/latest"
	"github.com/dominodatalab/autocrane/pkg/leaderelection"
	"github.com/dominodatalab/autocrane/pkg/manifest"
	"github.com/dominodatalab/autocrane/pkg/oracle"
	"github.com/dominodatalab/autocrane/pkg/podannotate"
	"github.com/dominodatalab/autocrane/pkg/podrequest"
	"github.com/dominodatalab/autocrane/pkg/watchdog"
)

// Exit codes per spec.md §6.
const (
	ExitOK             = 0
	ExitErrorThreshold = 2
	ExitConfigOrLease  = 3
)

// Collaborators bundles every injected dependency the loop composes. All
// fields are required. Run does not start leader election itself: the
// caller starts it and passes the Elector, and Run returns ExitConfigOrLease
// if Elector is nil.
type Collaborators struct {
	Clock             clock.Clock
	ManifestFetcher   manifest.Fetcher
	RequestGetter     podrequest.Getter
	KnownGoodAccessor knowngood.Accessor
	LatestAccessor    latest.Accessor
	WatchdogGetter    watchdog.Getter
	AnnotationPutter  podannotate.Putter
	Evicter           eviction.Evicter
	Deleter           gc.Deleter
	Elector           leaderelection.Elector
}

// Orchestrator runs the periodic control loop described in spec.md §4.1.
type Orchestrator struct {
	log logr.Logger
	cfg config.Controller
	c   Collaborators

	paths map[string]string

	window []map[autocranetypes.PodIdentifier]struct{}
}

// New builds an Orchestrator. cfg.Orchestra.Namespaces must be non-empty;
// Run returns ExitConfigOrLease immediately otherwise.
func New(log logr.Logger, cfg config.Controller, c Collaborators) *Orchestrator {
	return &Orchestrator{log: log, cfg: cfg, c: c, paths: cfg.Cluster.DataRepositories}
}

// Run drives the loop until ctx is canceled, the lease task terminates, or
// the consecutive-error limit is exceeded, returning the corresponding exit
// code.
func (o *Orchestrator) Run(ctx context.Context) int {
	if len(o.cfg.Orchestra.Namespaces) == 0 {
		o.log.Error(nil, "No namespaces configured")
		return ExitConfigOrLease
	}

	if o.c.Elector == nil {
		o.log.Error(nil, "No leader elector configured")
		return ExitConfigOrLease
	}

	period := o.cfg.Orchestra.IterationPeriod()
	limit := o.cfg.Orchestra.ConsecutiveErrorLimit

	consecutiveErrors := 0
	for {
		if o.c.Elector.Completed() {
			o.log.Error(nil, "Leader election task terminated")
			return ExitConfigOrLease
		}

		if consecutiveErrors > limit {
			o.log.Error(nil, "Consecutive error limit exceeded", "limit", limit)
			return ExitErrorThreshold
		}

		select {
		case <-ctx.Done():
			return ExitOK
		default:
		}

		if o.c.Elector.IsLeader() {
			if err := o.ProcessIteration(ctx); err != nil {
				o.log.Error(err, "Iteration failed")
				consecutiveErrors++
			} else {
				consecutiveErrors = 0
			}

			if err := o.CleanupExpired(ctx); err != nil {
				o.log.Error(err, "Cleanup failed")
			}
		} else {
			o.log.V(1).Info("Not leader")
		}

		select {
		case <-ctx.Done():
			return ExitOK
		case <-time.After(period):
		}
	}
}

// ProcessIteration runs one pass of manifest fetch, per-namespace
// known-good/latest refresh and annotation patching, and failure-window
// eviction, per spec.md §4.1.
func (o *Orchestrator) ProcessIteration(ctx context.Context) error {
	manifestData, err := o.c.ManifestFetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("cannot fetch manifest: %w", err)
	}

	now := o.c.Clock.Now()
	failing := map[autocranetypes.PodIdentifier]struct{}{}

	for _, namespace := range o.cfg.Orchestra.Namespaces {
		if err := o.processNamespace(ctx, namespace, manifestData, now, failing); err != nil {
			return fmt.Errorf("namespace %q: %w", namespace, err)
		}
	}

	o.slideWindow(failing)

	return o.evictIfFull(ctx)
}

func (o *Orchestrator) processNamespace(
	ctx context.Context,
	namespace string,
	manifestData autocranetypes.DataRepositoryManifest,
	now time.Time,
	failing map[autocranetypes.PodIdentifier]struct{},
) error {
	requests, err := o.c.RequestGetter.Get(ctx, namespace)
	if err != nil {
		return fmt.Errorf("cannot read pod requests: %w", err)
	}

	knownGood, err := o.c.KnownGoodAccessor.GetOrUpdate(ctx, namespace, manifestData, requests)
	if err != nil {
		return fmt.Errorf("cannot refresh known-good set: %w", err)
	}

	latestVersions, err := o.c.LatestAccessor.GetOrUpdate(ctx, namespace, manifestData)
	if err != nil {
		return fmt.Errorf("cannot refresh latest set: %w", err)
	}

	o.log.V(1).Info("Refreshed version sets", "namespace", namespace, "knownGood", knownGood, "latest", latestVersions)

	oc := oracle.New(knownGood, latestVersions, requests)

	for _, pod := range requests {
		var batch []podannotate.Annotation

		for _, repo := range pod.DataSources {
			if raw, has := pod.Requests[repo]; has {
				if _, decoded := raw.Decode(); !decoded {
					o.log.Error(nil, "Malformed request annotation, treating as absent", "pod", pod.ID, "repo", repo)
				}
			}

			details, ok := oc.GetDataRequest(pod, repo)
			if !ok {
				continue
			}

			details.Path = o.paths[repo]
			details.UnixTimestampSeconds = now.Unix()

			encoded, err := autocranetypes.EncodeRequest(details)
			if err != nil {
				return fmt.Errorf("cannot encode request for pod %s repo %q: %w", pod.ID, repo, err)
			}

			batch = append(batch, podannotate.Annotation{
				Key:   podannotate.RequestAnnotationKey(repo),
				Value: string(encoded),
			})
		}

		if len(batch) == 0 {
			continue
		}

		if err := o.c.AnnotationPutter.Put(ctx, pod.ID, batch); err != nil {
			return fmt.Errorf("cannot patch annotations on pod %s: %w", pod.ID, err)
		}
	}

	failingPods, err := o.c.WatchdogGetter.Get(ctx, namespace)
	if err != nil {
		return fmt.Errorf("cannot read failing pods: %w", err)
	}
	for _, id := range failingPods {
		failing[id] = struct{}{}
	}

	return nil
}

// windowLimit returns the configured sliding-window length (W), defaulting
// to the historical fixed value of 3 if unset.
func (o *Orchestrator) windowLimit() int {
	if w := o.cfg.Orchestra.WatchdogFailuresBeforeEviction; w > 0 {
		return w
	}
	return 3
}

func (o *Orchestrator) slideWindow(failing map[autocranetypes.PodIdentifier]struct{}) {
	o.window = append(o.window, failing)

	limit := o.windowLimit()
	if len(o.window) > limit {
		o.window = o.window[len(o.window)-limit:]
	}
}

func (o *Orchestrator) evictIfFull(ctx context.Context) error {
	limit := o.windowLimit()
	if len(o.window) < limit {
		return nil
	}

	intersection := intersectAll(o.window)
	if len(intersection) == 0 {
		return nil
	}

	ids := make([]autocranetypes.PodIdentifier, 0, len(intersection))
	for id := range intersection {
		ids = append(ids, id)
	}

	o.log.Info("Evicting pods failing watchdogs across the failure window", "pods", ids)

	if err := o.c.Evicter.Evict(ctx, ids); err != nil {
		o.log.Error(err, "Eviction failed")
	}

	return nil
}

func intersectAll(window []map[autocranetypes.PodIdentifier]struct{}) map[autocranetypes.PodIdentifier]struct{} {
	if len(window) == 0 {
		return nil
	}

	result := map[autocranetypes.PodIdentifier]struct{}{}
	for id := range window[0] {
		result[id] = struct{}{}
	}

	for _, set := range window[1:] {
		for id := range result {
			if _, ok := set[id]; !ok {
				delete(result, id)
			}
		}
	}

	return result
}

// CleanupExpired GCs workload-scoped objects past their TTL in every
// configured namespace, joining per-namespace errors.
func (o *Orchestrator) CleanupExpired(ctx context.Context) error {
	now := o.c.Clock.Now()

	var errs []error
	for _, namespace := range o.cfg.Orchestra.Namespaces {
		if err := o.c.Deleter.Delete(ctx, namespace, now); err != nil {
			errs = append(errs, fmt.Errorf("namespace %q: %w", namespace, err))
		}
	}

	return errors.Join(errs...)
}
