package services

import (
	"fmt"

	"workflow-suite/core/pkg/models"
)

// MergeStrategy names how transition data is folded into an instance context.
type MergeStrategy string

const (
	// MergeShallow overwrites top-level keys; nested objects are replaced
	// wholesale.
	MergeShallow MergeStrategy = "shallow"
	// MergeDeep merges nested objects key by key.
	MergeDeep MergeStrategy = "deep"
	// MergeReplace discards the stored context in favour of data.
	MergeReplace MergeStrategy = "replace"
)

// ParseMergeStrategy validates s.
func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch m := MergeStrategy(s); m {
	case MergeShallow, MergeDeep, MergeReplace:
		return m, nil
	case "":
		return MergeShallow, nil
	default:
		return "", fmt.Errorf("unknown context merge strategy %q", s)
	}
}

// Merge folds data into base according to strategy. Neither argument is
// modified.
func (m MergeStrategy) Merge(base, data map[string]any) map[string]any {
	switch m {
	case MergeReplace:
		out := models.CloneMap(data)
		if out == nil {
			out = map[string]any{}
		}
		return out
	case MergeDeep:
		return deepMerge(models.CloneMap(base), data)
	default:
		out := models.CloneMap(base)
		if out == nil {
			out = make(map[string]any, len(data))
		}
		for k, v := range models.CloneMap(data) {
			out[k] = v
		}
		return out
	}
}

func deepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range models.CloneMap(src) {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = deepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}
