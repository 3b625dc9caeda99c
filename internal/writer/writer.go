// Package writer holds the platform policy writers: JSON files on Linux,
// property lists on macOS and the registry on Windows. Each writer either
// owns its whole location and replaces it in one step, or shares the
// location with unmanaged data and rewrites only the keys it owns.
package writer

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"

	"curfew/internal/model"
)

// Owner is recorded next to the keys curfew manages in shared stores.
const Owner = "curfew"

// Mode selects how a writer treats its location.
type Mode int

const (
	// Own means the location belongs to curfew alone.
	Own Mode = iota
	// Merge means the location is shared; only owned keys are touched.
	Merge
)

func (m Mode) String() string {
	if m == Merge {
		return "merge"
	}
	return "own"
}

func summarize(settings model.TargetSettings, location, digest string) model.TargetSummary {
	return model.TargetSummary{
		AppliedIdentifiers: slices.Clone(settings.Identifiers),
		Toggles:            maps.Clone(settings.Toggles),
		Keys:               slices.Sorted(maps.Keys(settings.Values)),
		Location:           location,
		Digest:             digest,
	}
}

// normalize converts decoded document values into the narrow set of types
// the plist and registry encoders accept: integral floats become int64,
// json.Number is resolved and nested containers are walked.
func normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, fmt.Errorf("null values are not supported")
	case bool, string, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), nil
		}
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		return x.Float64()
	case []string:
		return slices.Clone(x), nil
	case []any:
		out := make([]any, 0, len(x))
		for i, e := range x {
			n, err := normalize(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out = append(out, n)
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := normalize(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func normalizeValues(values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for k, v := range values {
		n, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// stringList reports whether v is a list made only of strings.
func stringList(v any) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		return x, true
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
