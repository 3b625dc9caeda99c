package writer

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"howett.net/plist"

	"curfew/internal/curfew"
	"curfew/internal/model"
	"curfew/internal/policy"
	"curfew/internal/state"
)

// OwnedKeysKey lists the keys curfew owns inside a shared property list.
const OwnedKeysKey = "CurfewManagedKeys"

// PlistWriter writes macOS preference property lists.
//
// In Own mode the whole plist is replaced (Chrome's managed preferences
// domain). In Merge mode the plist is shared with the application's own
// preferences and only the keys named in OwnedKeysKey change; Fixed
// entries are written alongside any non-empty policy.
type PlistWriter struct {
	target    string
	path      string
	mode      Mode
	elevation curfew.Elevation

	// Fixed is merged into every non-empty policy, e.g. Firefox's
	// EnterprisePoliciesEnabled.
	Fixed map[string]any

	mu sync.Mutex
}

var (
	_ curfew.PolicyWriter   = (*PlistWriter)(nil)
	_ curfew.DigestReporter = (*PlistWriter)(nil)
)

func NewPlistWriter(target, path string, mode Mode, elevation curfew.Elevation) *PlistWriter {
	return &PlistWriter{target: target, path: path, mode: mode, elevation: elevation}
}

func (w *PlistWriter) Target() string   { return w.target }
func (w *PlistWriter) Location() string { return w.path }

func (w *PlistWriter) Replace(settings model.TargetSettings) (model.TargetSummary, error) {
	op := "replace " + w.target
	if err := w.elevation.Require(op); err != nil {
		return model.TargetSummary{}, err
	}
	values, err := normalizeValues(settings.Values)
	if err != nil {
		return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	if len(values) > 0 {
		maps.Copy(values, w.Fixed)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	doc, format := values, plist.XMLFormat
	if w.mode == Merge {
		existing, existingFormat, err := w.readShared()
		if err != nil {
			return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, err)
		}
		doc, format = mergeOwned(existing, values), existingFormat
	}

	data, err := w.write(doc, format)
	if err != nil {
		return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	return summarize(settings, w.path, policy.Digest(data)), nil
}

func (w *PlistWriter) Remove() error {
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

	existing, format, err := w.readShared()
	if err != nil {
		return curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	if existing == nil {
		return nil
	}
	doc := mergeOwned(existing, nil)
	if len(doc) == 0 {
		if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return curfew.NewError(curfew.ErrPlatformWrite, op, err)
		}
		return nil
	}
	if _, err := w.write(doc, format); err != nil {
		return curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	return nil
}

func (w *PlistWriter) CurrentDigest() (string, error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return policy.Digest(data), nil
}

// readShared returns the current plist and its encoding, or nil when the
// file does not exist. Binary plists are written back as binary.
func (w *PlistWriter) readShared() (map[string]any, int, error) {
	data, err := os.ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, plist.XMLFormat, nil
	}
	if err != nil {
		return nil, 0, err
	}
	var doc map[string]any
	format, err := plist.Unmarshal(data, &doc)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing %s: %w", w.path, err)
	}
	if format != plist.BinaryFormat {
		format = plist.XMLFormat
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	return doc, format, nil
}

func mergeOwned(doc map[string]any, values map[string]any) map[string]any {
	out := maps.Clone(doc)
	if out == nil {
		out = make(map[string]any)
	}
	if owned, ok := stringList(out[OwnedKeysKey]); ok {
		for _, key := range owned {
			delete(out, key)
		}
	}
	delete(out, OwnedKeysKey)
	if len(values) == 0 {
		return out
	}
	maps.Copy(out, values)
	out[OwnedKeysKey] = slices.Sorted(maps.Keys(values))
	return out
}

func (w *PlistWriter) write(doc map[string]any, format int) ([]byte, error) {
	data, err := plist.MarshalIndent(doc, format, "\t")
	if err != nil {
		return nil, fmt.Errorf("encoding plist: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return nil, fmt.Errorf("creating preferences directory: %w", err)
	}
	if err := state.WriteFileAtomic(w.path, data, 0644); err != nil {
		return nil, err
	}
	return data, nil
}
