package writer

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"slices"
	"strconv"
	"sync"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// RegistryKey is an open registry key. Missing values are not errors:
// Strings returns nil and DeleteValue succeeds.
type RegistryKey interface {
	SetDWord(name string, value uint32) error
	SetString(name, value string) error
	SetStrings(name string, value []string) error
	Strings(name string) ([]string, error)
	ValueNames() ([]string, error)
	DeleteValue(name string) error
	Close() error
}

// RegistryHive opens keys below a fixed root (HKLM for policies).
// Open of a missing key returns an error matching os.ErrNotExist; DeleteTree
// of a missing key succeeds.
type RegistryHive interface {
	Open(path string) (RegistryKey, error)
	Create(path string) (RegistryKey, error)
	DeleteTree(path string) error
}

// RegistryWriter writes browser policies below a registry key.
//
// The key is shared with policies set by other tools (Group Policy,
// another MDM), so only the values listed in OwnedKeysKey are touched.
// Scalars become DWORD or string values, lists of strings become numbered
// subkeys the way Chrome and Firefox read list policies, and objects are
// stored as JSON strings.
//
// The registry offers no multi-value transaction and no key rename, and
// the key cannot be swapped for a sibling without dropping the other
// tools' values. A reader polling during Replace may therefore see some
// values from the old policy next to some from the new one. The writes are
// ordered to bound that: new values first, stale ones deleted after, the
// owned list last. A reader never sees a managed policy missing that both
// the old and the new policy set.
type RegistryWriter struct {
	target    string
	hive      RegistryHive
	path      string
	elevation curfew.Elevation

	mu sync.Mutex
}

var _ curfew.PolicyWriter = (*RegistryWriter)(nil)

func NewRegistryWriter(target string, hive RegistryHive, path string, elevation curfew.Elevation) *RegistryWriter {
	return &RegistryWriter{target: target, hive: hive, path: path, elevation: elevation}
}

func (w *RegistryWriter) Target() string   { return w.target }
func (w *RegistryWriter) Location() string { return `HKLM\` + w.path }

func (w *RegistryWriter) Replace(settings model.TargetSettings) (model.TargetSummary, error) {
	op := "replace " + w.target
	if err := w.elevation.Require(op); err != nil {
		return model.TargetSummary{}, err
	}
	values, err := normalizeValues(settings.Values)
	if err != nil {
		return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	key, err := w.hive.Create(w.path)
	if err != nil {
		return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	defer key.Close()

	owned, err := key.Strings(OwnedKeysKey)
	if err != nil {
		return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}

	names := slices.Sorted(maps.Keys(values))
	for _, name := range names {
		if err := w.setValue(key, name, values[name], slices.Contains(owned, name)); err != nil {
			return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, fmt.Errorf("%s: %w", name, err))
		}
	}
	for _, name := range owned {
		if _, keep := values[name]; keep {
			continue
		}
		if err := w.deleteName(key, name); err != nil {
			return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := key.SetStrings(OwnedKeysKey, names); err != nil {
		return model.TargetSummary{}, curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	return summarize(settings, w.Location(), ""), nil
}

func (w *RegistryWriter) Remove() error {
	op := "remove " + w.target
	if err := w.elevation.Require(op); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	key, err := w.hive.Open(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	defer key.Close()

	owned, err := key.Strings(OwnedKeysKey)
	if err != nil {
		return curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	for _, name := range owned {
		if err := w.deleteName(key, name); err != nil {
			return curfew.NewError(curfew.ErrPlatformWrite, op, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := key.DeleteValue(OwnedKeysKey); err != nil {
		return curfew.NewError(curfew.ErrPlatformWrite, op, err)
	}
	return nil
}

// setValue writes one policy. A list is written over the numbered entries
// of its subkey and surplus entries are trimmed afterwards, so the list is
// never seen empty. A value that changed between list and scalar gets its
// new form before the old one is deleted.
func (w *RegistryWriter) setValue(key RegistryKey, name string, v any, wasOwned bool) error {
	sub := w.path + `\` + name
	if list, ok := stringList(v); ok {
		subKey, err := w.hive.Create(sub)
		if err != nil {
			return err
		}
		defer subKey.Close()
		for i, s := range list {
			if err := subKey.SetString(strconv.Itoa(i+1), s); err != nil {
				return err
			}
		}
		existing, err := subKey.ValueNames()
		if err != nil {
			return err
		}
		for _, n := range existing {
			if i, err := strconv.Atoi(n); err == nil && i >= 1 && i <= len(list) {
				continue
			}
			if err := subKey.DeleteValue(n); err != nil {
				return err
			}
		}
		if wasOwned {
			return key.DeleteValue(name)
		}
		return nil
	}

	if err := setScalar(key, name, v); err != nil {
		return err
	}
	if wasOwned {
		return w.hive.DeleteTree(sub)
	}
	return nil
}

func setScalar(key RegistryKey, name string, v any) error {
	switch x := v.(type) {
	case bool:
		var d uint32
		if x {
			d = 1
		}
		return key.SetDWord(name, d)
	case int64:
		if x < 0 || x > math.MaxUint32 {
			return fmt.Errorf("integer %d out of DWORD range", x)
		}
		return key.SetDWord(name, uint32(x))
	case string:
		return key.SetString(name, x)
	case float64:
		return fmt.Errorf("non-integer number %v", x)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return err
		}
		return key.SetString(name, string(data))
	}
}

func (w *RegistryWriter) deleteName(key RegistryKey, name string) error {
	if err := key.DeleteValue(name); err != nil {
		return err
	}
	return w.hive.DeleteTree(w.path + `\` + name)
}
