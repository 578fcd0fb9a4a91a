package snapshot

import (
	"strconv"
)

// Values held by the store are JSON trees: map[string]any, []any, json.Number,
// string, bool or nil. They are never modified after they are stored, so merge
// results share unchanged subtrees with their inputs.

// MergeTopic folds payload into the current value of a topic with the given
// shape and returns the new value. Neither argument is modified.
func MergeTopic(shape Shape, current, payload any) any {
	obj, ok := payload.(map[string]any)
	if !ok {
		// Scalars and arrays replace the topic value.
		return payload
	}
	cur, _ := current.(map[string]any)

	if lines, ok := obj[LinesKey].(map[string]any); ok {
		return mergeLines(shape, cur, obj, lines)
	}
	return shallowMerge(cur, obj)
}

// shallowMerge copies the keys of src over dst, last write wins per key.
func shallowMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// mergeLines deep merges every entity in lines into the matching entity of the
// current Lines collection. Keys beside Lines are shallow merged.
func mergeLines(shape Shape, cur, payload, lines map[string]any) map[string]any {
	out := make(map[string]any, len(cur)+len(payload))
	for k, v := range cur {
		out[k] = v
	}
	for k, v := range payload {
		if k != LinesKey {
			out[k] = v
		}
	}

	var existing map[string]any
	switch stored := cur[LinesKey].(type) {
	case map[string]any:
		existing = stored
	case []any:
		if shape == ShapeLines {
			if patched, ok := mergeIndexedLines(stored, lines); ok {
				out[LinesKey] = patched
				return out
			}
			existing = indexMap(stored)
		}
	}

	next := make(map[string]any, len(existing)+len(lines))
	for id, rec := range existing {
		next[id] = rec
	}
	for id, delta := range lines {
		next[id] = mergeEntity(existing[id], delta)
	}
	out[LinesKey] = next
	return out
}

// mergeIndexedLines merges entity deltas keyed by position into a copy of an
// array-held Lines collection (TopThree). It reports false when an id does not
// name an existing position; the array never grows.
func mergeIndexedLines(arr []any, lines map[string]any) ([]any, bool) {
	for id := range lines {
		if _, ok := arrayIndex(id, len(arr)); !ok {
			return nil, false
		}
	}
	out := make([]any, len(arr))
	copy(out, arr)
	for id, delta := range lines {
		i, _ := arrayIndex(id, len(arr))
		out[i] = mergeEntity(arr[i], delta)
	}
	return out, true
}

func arrayIndex(id string, n int) (int, bool) {
	i, err := strconv.Atoi(id)
	if err != nil || i < 0 || i >= n || strconv.Itoa(i) != id {
		return 0, false
	}
	return i, true
}

// indexMap keys the elements of arr by their position.
func indexMap(arr []any) map[string]any {
	out := make(map[string]any, len(arr))
	for i, v := range arr {
		out[strconv.Itoa(i)] = v
	}
	return out
}

func mergeEntity(current, delta any) any {
	d, ok := delta.(map[string]any)
	if !ok {
		return delta
	}
	c, _ := current.(map[string]any)
	return DeepMerge(c, d)
}

// DeepMerge returns a new object holding target with source merged in:
// arrays in source replace, objects recurse when target holds an object at
// the same key and are copied otherwise, scalars overwrite.
func DeepMerge(target, source map[string]any) map[string]any {
	out := make(map[string]any, len(target)+len(source))
	for k, v := range target {
		out[k] = v
	}
	for k, v := range source {
		out[k] = mergeValue(target[k], v)
	}
	return out
}

func mergeValue(current, next any) any {
	src, ok := next.(map[string]any)
	if !ok {
		return next
	}
	cur, _ := current.(map[string]any)
	return DeepMerge(cur, src)
}
