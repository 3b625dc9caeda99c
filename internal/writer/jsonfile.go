package writer

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/tidwall/jsonc"

	"curfew/internal/curfew"
	"curfew/internal/model"
	"curfew/internal/policy"
	"curfew/internal/state"
)

// MarkerKey is the top-level key of a shared JSON file that lists the
// policies curfew owns in it.
const MarkerKey = "_managedBy"

type jsonMarker struct {
	Owner string   `json:"owner"`
	Keys  []string `json:"keys"`
}

// JSONFileWriter writes browser policy JSON files.
//
// In Own mode the file is curfew's alone (Chrome's managed policy
// directory takes any number of files) and holds the policy keys at the top
// level. In Merge mode the file is shared (Firefox reads a single
// policies.json); the policies live under Section and only the keys listed
// in the marker are replaced.
type JSONFileWriter struct {
	target    string
	path      string
	mode      Mode
	section   string
	elevation curfew.Elevation

	mu sync.Mutex
}

var (
	_ curfew.PolicyWriter   = (*JSONFileWriter)(nil)
	_ curfew.DigestReporter = (*JSONFileWriter)(nil)
)

// NewJSONFileWriter creates a writer. section is only used in Merge mode.
func NewJSONFileWriter(target, path string, mode Mode, section string, elevation curfew.Elevation) *JSONFileWriter {
	return &JSONFileWriter{
		target:    target,
		path:      path,
		mode:      mode,
		section:   section,
		elevation: elevation,
	}
}

func (w *JSONFileWriter) Target() string   { return w.target }
func (w *JSONFileWriter) Location() string { return w.path }

func (w *JSONFileWriter) Replace(settings model.TargetSettings) (model.TargetSummary, error) {
	op := "replace " + w.target
	if err := w.elevation.Require(op); err != nil {
		return model.TargetSummary{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	var doc map[string]any
	if w.mode == Merge {
		existing, err := w.readShared()
		if err != nil {
			return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, err)
		}
		doc = w.merge(existing, settings.Values)
	} else {
		doc = maps.Clone(settings.Values)
	}

	data, err := encodeJSON(doc)
	if err != nil {
		return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	if err := w.write(data); err != nil {
		return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	return summarize(settings, w.path, policy.Digest(data)), nil
}

func (w *JSONFileWriter) Remove() error {
	op := "remove " + w.target
	if err := w.elevation.Require(op); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.mode == Own {
		if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return curfew.NewError(curfew.ErrPlatformWrite, op, err)
		}
		return nil
	}

	existing, err := w.readShared()
	if err != nil {
		return curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	if existing == nil {
		return nil
	}
	doc := w.merge(existing, nil)
	if len(doc) == 0 {
		if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return curfew.NewError(curfew.ErrPlatformWrite, op, err)
		}
		return nil
	}
	data, err := encodeJSON(doc)
	if err != nil {
		return curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	if err := w.write(data); err != nil {
		return curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	return nil
}

// CurrentDigest hashes the file as it is on disk now.
func (w *JSONFileWriter) CurrentDigest() (string, error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return policy.Digest(data), nil
}

// readShared returns the parsed shared file, or nil when it does not exist.
// A file that cannot be parsed is an error; it is never overwritten.
func (w *JSONFileWriter) readShared() (map[string]any, error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", w.path, err)
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	if raw, ok := doc[w.section]; ok {
		if _, isMap := raw.(map[string]any); !isMap {
			return nil, fmt.Errorf("%s: %q is not an object", w.path, w.section)
		}
	}
	return doc, nil
}

// merge drops the previously owned keys from the section and adds values.
// A nil values map leaves no trace of curfew in the document.
func (w *JSONFileWriter) merge(doc map[string]any, values map[string]any) map[string]any {
	if doc == nil {
		doc = make(map[string]any)
	}
	section, _ := doc[w.section].(map[string]any)
	if section == nil {
		section = make(map[string]any)
	}
	for _, key := range ownedJSONKeys(doc) {
		delete(section, key)
	}
	maps.Copy(section, values)

	if len(values) > 0 {
		doc[MarkerKey] = jsonMarker{Owner: Owner, Keys: slices.Sorted(maps.Keys(values))}
	} else {
		delete(doc, MarkerKey)
	}
	if len(section) > 0 {
		doc[w.section] = section
	} else {
		delete(doc, w.section)
	}
	return doc
}

func ownedJSONKeys(doc map[string]any) []string {
	marker, ok := doc[MarkerKey].(map[string]any)
	if !ok || marker["owner"] != Owner {
		return nil
	}
	raw, _ := marker["keys"].([]any)
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}

func (w *JSONFileWriter) write(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("creating policy directory: %w", err)
	}
	return state.WriteFileAtomic(w.path, data, 0644)
}

func encodeJSON(doc map[string]any) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding policy: %w", err)
	}
	return append(data, '\n'), nil
}
