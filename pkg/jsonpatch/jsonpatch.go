// Package jsonpatch computes RFC 6902 patches between two JSON documents and
// applies them.
//
// Create follows the diff convention of the browser-side pattern library the
// widgets interoperate with: keys of the old value are visited from last to
// first, containers of the same kind are diffed recursively, every other
// difference is a replace, and keys that only exist in the new value are
// appended as adds afterwards. Object keys are visited in sorted order so
// the output is deterministic.
package jsonpatch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	evanjsonpatch "github.com/evanphx/json-patch/v5"
)

const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
	OpMove    = "move"
	OpCopy    = "copy"
	OpTest    = "test"
)

// Operation is one RFC 6902 patch entry.
type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	From  string `json:"from,omitempty"`
	Value any    `json:"value,omitempty"`
}

// MarshalJSON keeps "value" for operations that require it, even when null.
func (o Operation) MarshalJSON() ([]byte, error) {
	type withValue struct {
		Op    string `json:"op"`
		Path  string `json:"path"`
		From  string `json:"from,omitempty"`
		Value any    `json:"value"`
	}
	type withoutValue struct {
		Op   string `json:"op"`
		Path string `json:"path"`
		From string `json:"from,omitempty"`
	}
	switch o.Op {
	case OpAdd, OpReplace, OpTest:
		return json.Marshal(withValue(o))
	default:
		return json.Marshal(withoutValue{Op: o.Op, Path: o.Path, From: o.From})
	}
}

// Patch is an ordered list of operations.
type Patch []Operation

// Create returns the patch transforming from into to. Both values are
// normalized to their generic JSON form first.
func Create(from, to any) (Patch, error) {
	a, err := Normalize(from)
	if err != nil {
		return nil, fmt.Errorf("create patch: from: %w", err)
	}
	b, err := Normalize(to)
	if err != nil {
		return nil, fmt.Errorf("create patch: to: %w", err)
	}

	patch := Patch{}
	if !sameContainerKind(a, b) {
		if !equalLeaf(a, b) {
			patch = append(patch, Operation{Op: OpReplace, Path: "", Value: Clone(b)})
		}
		return patch, nil
	}
	generate(a, b, "", &patch)
	return patch, nil
}

func generate(oldVal, newVal any, path string, patch *Patch) {
	oldKeys := keysOf(oldVal)
	newKeys := keysOf(newVal)
	deleted := false

	for i := len(oldKeys) - 1; i >= 0; i-- {
		key := oldKeys[i]
		childPath := path + "/" + EscapePathComponent(key)
		oldChild, _ := lookup(oldVal, key)
		newChild, ok := lookup(newVal, key)
		if !ok {
			*patch = append(*patch, Operation{Op: OpRemove, Path: childPath})
			deleted = true
			continue
		}
		if sameContainerKind(oldChild, newChild) {
			generate(oldChild, newChild, childPath, patch)
			continue
		}
		if !equalLeaf(oldChild, newChild) {
			*patch = append(*patch, Operation{Op: OpReplace, Path: childPath, Value: Clone(newChild)})
		}
	}

	if !deleted && len(newKeys) == len(oldKeys) {
		return
	}

	for _, key := range newKeys {
		if _, ok := lookup(oldVal, key); ok {
			continue
		}
		newChild, _ := lookup(newVal, key)
		*patch = append(*patch, Operation{
			Op:    OpAdd,
			Path:  path + "/" + EscapePathComponent(key),
			Value: Clone(newChild),
		})
	}
}

// sameContainerKind reports whether a and b are both objects or both arrays.
func sameContainerKind(a, b any) bool {
	switch a.(type) {
	case map[string]any:
		_, ok := b.(map[string]any)
		return ok
	case []any:
		_, ok := b.([]any)
		return ok
	}
	return false
}

// equalLeaf compares values that are not diffed recursively. Containers
// only compare equal to themselves by kind and content.
func equalLeaf(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool, float64, string:
		return a == b
	case map[string]any, []any:
		return deepEqual(av, b)
	}
	return false
}

func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !deepEqual(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return equalLeaf(a, b)
	}
}

// keysOf lists object keys sorted, or array indices ascending.
func keysOf(v any) []string {
	switch tv := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(tv))
		for k := range tv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	case []any:
		keys := make([]string, len(tv))
		for i := range tv {
			keys[i] = strconv.Itoa(i)
		}
		return keys
	}
	return nil
}

func lookup(v any, key string) (any, bool) {
	switch tv := v.(type) {
	case map[string]any:
		child, ok := tv[key]
		return child, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(tv) {
			return nil, false
		}
		return tv[i], true
	}
	return nil, false
}

// EscapePathComponent escapes a JSON pointer reference token.
func EscapePathComponent(token string) string {
	if !strings.ContainsAny(token, "~/") {
		return token
	}
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}

// Normalize converts v to the generic shape produced by encoding/json:
// map[string]any, []any, float64, string, bool and nil.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, bool, float64, string:
		return v, nil
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(v.(json.RawMessage), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone deep-copies a generic JSON value.
func Clone(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, child := range tv {
			out[k] = Clone(child)
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, child := range tv {
			out[i] = Clone(child)
		}
		return out
	default:
		return v
	}
}

// Apply returns doc with patch applied. doc is not modified.
func Apply(doc any, patch Patch) (any, error) {
	current, err := Normalize(doc)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	if len(patch) == 0 {
		return Clone(current), nil
	}

	// Whole-document replacements are handled here; every other run of
	// operations goes through the RFC 6902 implementation.
	start := 0
	for i, op := range patch {
		if op.Path != "" || (op.Op != OpReplace && op.Op != OpAdd) {
			continue
		}
		if current, err = applyRun(current, patch[start:i]); err != nil {
			return nil, err
		}
		current = Clone(op.Value)
		start = i + 1
	}
	return applyRun(current, patch[start:])
}

func applyRun(doc any, ops Patch) (any, error) {
	if len(ops) == 0 {
		return doc, nil
	}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("apply patch: encode document: %w", err)
	}
	opsJSON, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("apply patch: encode operations: %w", err)
	}
	decoded, err := evanjsonpatch.DecodePatch(opsJSON)
	if err != nil {
		return nil, fmt.Errorf("apply patch: decode operations: %w", err)
	}
	result, err := decoded.Apply(docJSON)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	var out any
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("apply patch: decode result: %w", err)
	}
	return out, nil
}

// Equal reports whether a and b serialize to the same JSON document.
func Equal(a, b any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return evanjsonpatch.Equal(aj, bj)
}
