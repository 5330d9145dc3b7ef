package jsonpatch

import (
	"bytes"

	"gomodules.xyz/jsonpatch/v2"
)

type Operations []jsonpatch.JsonPatchOperation

// NewReplaceOperation builds a "replace" patch operation for path, carrying
// value as a diagnostic payload. AutoCrane uses this shape (rather than a
// bespoke struct) for watchdog condition diffs so every diff printed by this
// controller logs consistently.
func NewReplaceOperation(path string, value interface{}) jsonpatch.JsonPatchOperation {
	return jsonpatch.JsonPatchOperation{
		Operation: "replace",
		Path:      path,
		Value:     value,
	}
}

func (o Operations) MarshallJSON() ([]byte, error) {
	var b bytes.Buffer

	b.WriteString("[")
	for idx, op := range o {
		if idx > 0 {
			b.WriteString(",")
		}

		bs, err := op.MarshalJSON()
		if err != nil {
			return nil, err
		}
		b.Write(bs)
	}
	b.WriteString("]")

	return b.Bytes(), nil
}
