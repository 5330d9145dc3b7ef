package jsonpatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperations_MarshallJSON(t *testing.T) {
	ops := Operations{
		NewReplaceOperation("/status/conditions/Ready", "False"),
	}

	bs, err := ops.MarshallJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"op":"replace","path":"/status/conditions/Ready","value":"False"}]`, string(bs))
}

func TestOperations_Empty(t *testing.T) {
	var ops Operations

	bs, err := ops.MarshallJSON()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(bs))
}
