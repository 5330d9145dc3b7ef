package versionstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/dominodatalab/autocrane/pkg/autocranetypes"
)

func TestStore_RoundTrip(t *testing.T) {
	client := fake.NewSimpleClientset()
	store := New(client.CoreV1().ConfigMaps, "autocrane-versions", "knowngood")

	empty, err := store.Read(context.Background(), "ns1")
	require.NoError(t, err)
	assert.Empty(t, empty)

	err = store.Write(context.Background(), "ns1", autocranetypes.VersionSet{"widgets": "v1"})
	require.NoError(t, err)

	read, err := store.Read(context.Background(), "ns1")
	require.NoError(t, err)
	assert.Equal(t, autocranetypes.VersionSet{"widgets": "v1"}, read)
}

func TestStore_PrefixIsolation(t *testing.T) {
	client := fake.NewSimpleClientset()
	kg := New(client.CoreV1().ConfigMaps, "autocrane-versions", "knowngood")
	latest := New(client.CoreV1().ConfigMaps, "autocrane-versions", "latest")

	require.NoError(t, kg.Write(context.Background(), "ns1", autocranetypes.VersionSet{"widgets": "v1"}))
	require.NoError(t, latest.Write(context.Background(), "ns1", autocranetypes.VersionSet{"widgets": "v2"}))

	kgRead, err := kg.Read(context.Background(), "ns1")
	require.NoError(t, err)
	assert.Equal(t, "v1", kgRead["widgets"])

	latestRead, err := latest.Read(context.Background(), "ns1")
	require.NoError(t, err)
	assert.Equal(t, "v2", latestRead["widgets"])
}
