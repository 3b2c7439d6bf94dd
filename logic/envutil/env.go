// Package envutil converts between environment maps and the KEY=VALUE slices
// expected by os/exec.
package envutil

import (
	"sort"
	"strings"
)

// MapToSlice converts an environment map into sorted KEY=VALUE pairs.
// Sorting keeps the child environment and logged results deterministic.
// A nil map yields nil.
//
//	envutil.MapToSlice(map[string]string{"B": "2", "A": "1"}) // ["A=1", "B=2"]
func MapToSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// SliceToMap parses KEY=VALUE pairs into a map. Entries without '=' are
// skipped; the value keeps any further '=' characters. Later duplicates win.
//
//	envutil.SliceToMap(os.Environ())
func SliceToMap(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, e := range env {
		k, v, ok := strings.Cut(e, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// Merge returns base overlaid with extra. Neither input is modified.
//
//	env := envutil.Merge(envutil.SliceToMap(os.Environ()), map[string]string{"DEBUG": "1"})
func Merge(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
