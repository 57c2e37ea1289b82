// Package value provides deep-clone, diff, and patch operations for the
// structured state documents exchanged between sessions and clients.
//
// Documents are plain Go values as produced by encoding/json: nil, bool,
// float64, string, []any, and map[string]any. Deltas are RFC 6902 patches so
// clients can apply them with any standard JSON Patch implementation.
package value

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/wI2L/jsondiff"
)

// Delta is the computed difference between two state documents.
type Delta = jsondiff.Patch

// Clone returns a deep copy of doc with no shared structure.
//
// The copy is normalized to JSON types, so numeric values come back as
// float64 regardless of how the document was built. Diff bases recorded per
// player are always clones, which keeps diffing stable across sources.
func Clone(doc any) (any, error) {
	if doc == nil {
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return out, nil
}

// Diff computes the delta that transforms base into target.
func Diff(base, target any) (Delta, error) {
	patch, err := jsondiff.Compare(base, target)
	if err != nil {
		return nil, fmt.Errorf("compare documents: %w", err)
	}
	return patch, nil
}

// Apply applies a delta to base and returns the patched document. The base
// document is not modified.
func Apply(base any, delta Delta) (any, error) {
	baseRaw, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal base: %w", err)
	}
	deltaRaw, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("marshal delta: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(deltaRaw)
	if err != nil {
		return nil, fmt.Errorf("decode delta: %w", err)
	}
	patched, err := patch.Apply(baseRaw)
	if err != nil {
		return nil, fmt.Errorf("apply delta: %w", err)
	}
	var out any
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, fmt.Errorf("unmarshal patched document: %w", err)
	}
	return out, nil
}
