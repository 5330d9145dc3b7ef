package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
	"github.com/dominodatalab/autocrane/pkg/clock"
	"github.com/dominodatalab/autocrane/pkg/config"
	"github.com/dominodatalab/autocrane/pkg/podannotate"
)

type fakeManifest struct {
	m   autocranetypes.DataRepositoryManifest
	err error
}

func (f *fakeManifest) Fetch(context.Context) (autocranetypes.DataRepositoryManifest, error) {
	return f.m, f.err
}

type fakeRequests struct {
	byNamespace map[string][]autocranetypes.PodDataRequestInfo
}

func (f *fakeRequests) Get(_ context.Context, namespace string) ([]autocranetypes.PodDataRequestInfo, error) {
	return f.byNamespace[namespace], nil
}

type fakeKnownGood struct{ versions autocranetypes.VersionSet }

func (f *fakeKnownGood) GetOrUpdate(context.Context, string, autocranetypes.DataRepositoryManifest, []autocranetypes.PodDataRequestInfo) (autocranetypes.VersionSet, error) {
	return f.versions, nil
}

type fakeLatest struct{ versions autocranetypes.VersionSet }

func (f *fakeLatest) GetOrUpdate(context.Context, string, autocranetypes.DataRepositoryManifest) (autocranetypes.VersionSet, error) {
	return f.versions, nil
}

type fakeWatchdog struct {
	byNamespace map[string][]autocranetypes.PodIdentifier
}

func (f *fakeWatchdog) Get(_ context.Context, namespace string) ([]autocranetypes.PodIdentifier, error) {
	return f.byNamespace[namespace], nil
}

type fakePutter struct {
	puts map[autocranetypes.PodIdentifier][]podannotate.Annotation
}

func (f *fakePutter) Put(_ context.Context, pod autocranetypes.PodIdentifier, annotations []podannotate.Annotation) error {
	if f.puts == nil {
		f.puts = map[autocranetypes.PodIdentifier][]podannotate.Annotation{}
	}
	f.puts[pod] = annotations
	return nil
}

type fakeEvicter struct {
	evicted []autocranetypes.PodIdentifier
}

func (f *fakeEvicter) Evict(_ context.Context, ids []autocranetypes.PodIdentifier) error {
	f.evicted = append(f.evicted, ids...)
	return nil
}

type fakeDeleter struct{ calls int }

func (f *fakeDeleter) Delete(context.Context, string, time.Time) error {
	f.calls++
	return nil
}

type fakeElector struct {
	leader    bool
	completed bool
}

func (f *fakeElector) IsLeader() bool  { return f.leader }
func (f *fakeElector) Completed() bool { return f.completed }

func testConfig() config.Controller {
	cfg := config.Defaults()
	cfg.Orchestra.Namespaces = []string{"ns1"}
	cfg.Cluster.DataRepositories = map[string]string{"widgets": "/repos/widgets"}
	return cfg
}

func TestProcessIteration_PatchesUpgradeAndCollectsFailing(t *testing.T) {
	encoded, err := autocranetypes.EncodeRequest(autocranetypes.DataDownloadRequestDetails{Hash: "v1"})
	require.NoError(t, err)

	pod := autocranetypes.PodDataRequestInfo{
		ID:          autocranetypes.PodIdentifier{Namespace: "ns1", Name: "p1"},
		DataSources: []string{"widgets"},
		Requests:    map[string]autocranetypes.EncodedRequest{"widgets": encoded},
	}

	putter := &fakePutter{}
	o := New(testr.New(t), testConfig(), Collaborators{
		Clock:             clock.NewFake(time.Unix(1000, 0)),
		ManifestFetcher:   &fakeManifest{m: autocranetypes.DataRepositoryManifest{"widgets": {{Version: "v1"}, {Version: "v2"}}}},
		RequestGetter:     &fakeRequests{byNamespace: map[string][]autocranetypes.PodDataRequestInfo{"ns1": {pod}}},
		KnownGoodAccessor: &fakeKnownGood{versions: autocranetypes.VersionSet{"widgets": "v1"}},
		LatestAccessor:    &fakeLatest{versions: autocranetypes.VersionSet{"widgets": "v2"}},
		WatchdogGetter:    &fakeWatchdog{byNamespace: map[string][]autocranetypes.PodIdentifier{"ns1": {pod.ID}}},
		AnnotationPutter:  putter,
		Evicter:           &fakeEvicter{},
		Deleter:           &fakeDeleter{},
		Elector:           &fakeElector{leader: true},
	})

	err = o.ProcessIteration(context.Background())
	require.NoError(t, err)

	annotations := putter.puts[pod.ID]
	require.Len(t, annotations, 1)
	assert.Equal(t, podannotate.RequestAnnotationKey("widgets"), annotations[0].Key)

	decoded := autocranetypes.EncodedRequest(annotations[0].Value)
	details, ok := decoded.Decode()
	require.True(t, ok)
	assert.Equal(t, "v2", details.Hash)
	assert.Equal(t, "/repos/widgets", details.Path)
	assert.Equal(t, int64(1000), details.UnixTimestampSeconds)

	require.Len(t, o.window, 1)
	assert.Contains(t, o.window[0], pod.ID)
}

func TestProcessIteration_ManifestErrorPropagates(t *testing.T) {
	o := New(testr.New(t), testConfig(), Collaborators{
		Clock:           clock.NewFake(time.Unix(0, 0)),
		ManifestFetcher: &fakeManifest{err: errors.New("boom")},
		Elector:         &fakeElector{leader: true},
	})

	err := o.ProcessIteration(context.Background())
	assert.Error(t, err)
}

func TestSlideWindowAndEvict_IntersectionAcrossThreeIterations(t *testing.T) {
	evicter := &fakeEvicter{}
	cfg := testConfig()
	cfg.Orchestra.WatchdogFailuresBeforeEviction = 3

	o := New(testr.New(t), cfg, Collaborators{
		Clock:             clock.NewFake(time.Unix(0, 0)),
		ManifestFetcher:   &fakeManifest{m: autocranetypes.DataRepositoryManifest{}},
		RequestGetter:     &fakeRequests{},
		KnownGoodAccessor: &fakeKnownGood{versions: autocranetypes.VersionSet{}},
		LatestAccessor:    &fakeLatest{versions: autocranetypes.VersionSet{}},
		AnnotationPutter:  &fakePutter{},
		Evicter:           evicter,
		Deleter:           &fakeDeleter{},
		Elector:           &fakeElector{leader: true},
	})

	p := autocranetypes.PodIdentifier{Namespace: "ns1", Name: "P"}
	q := autocranetypes.PodIdentifier{Namespace: "ns1", Name: "Q"}
	r := autocranetypes.PodIdentifier{Namespace: "ns1", Name: "R"}
	s := autocranetypes.PodIdentifier{Namespace: "ns1", Name: "S"}

	o.c.WatchdogGetter = &fakeWatchdog{byNamespace: map[string][]autocranetypes.PodIdentifier{"ns1": {p, q}}}
	require.NoError(t, o.ProcessIteration(context.Background()))
	assert.Empty(t, evicter.evicted)

	o.c.WatchdogGetter = &fakeWatchdog{byNamespace: map[string][]autocranetypes.PodIdentifier{"ns1": {p, r}}}
	require.NoError(t, o.ProcessIteration(context.Background()))
	assert.Empty(t, evicter.evicted)

	o.c.WatchdogGetter = &fakeWatchdog{byNamespace: map[string][]autocranetypes.PodIdentifier{"ns1": {p, s}}}
	require.NoError(t, o.ProcessIteration(context.Background()))
	assert.ElementsMatch(t, []autocranetypes.PodIdentifier{p}, evicter.evicted)

	evicter.evicted = nil
	o.c.WatchdogGetter = &fakeWatchdog{byNamespace: map[string][]autocranetypes.PodIdentifier{"ns1": {}}}
	require.NoError(t, o.ProcessIteration(context.Background()))
	assert.Empty(t, evicter.evicted)
}

func TestRun_NoNamespacesExitsThree(t *testing.T) {
	cfg := config.Defaults()
	o := New(testr.New(t), cfg, Collaborators{Elector: &fakeElector{}})

	assert.Equal(t, ExitConfigOrLease, o.Run(context.Background()))
}

func TestRun_CancelledExitsZero(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestra.IterationSeconds = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(testr.New(t), cfg, Collaborators{Elector: &fakeElector{leader: false}})

	assert.Equal(t, ExitOK, o.Run(ctx))
}

func TestRun_NonLeaderNeverProcessesIteration(t *testing.T) {
	cfg := testConfig()
	cfg.Orchestra.IterationSeconds = 1

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := New(testr.New(t), cfg, Collaborators{
		ManifestFetcher: &fakeManifest{err: errors.New("should never be called")},
		Elector:         &fakeElector{leader: false},
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	assert.Equal(t, ExitOK, o.Run(ctx))
}
