package writer

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"testing"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// memHive is an in-memory RegistryHive. onChange, if set, runs after every
// mutation so a test can look at what a reader would see.
type memHive struct {
	mu       sync.Mutex
	keys     map[string]map[string]any
	onChange func()
}

func (h *memHive) changed() {
	if h.onChange != nil {
		h.onChange()
	}
}

func newMemHive() *memHive {
	return &memHive{keys: make(map[string]map[string]any)}
}

func (h *memHive) Open(path string) (RegistryKey, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.keys[path]; !ok {
		return nil, fmt.Errorf("opening %s: %w", path, os.ErrNotExist)
	}
	return &memKey{hive: h, path: path}, nil
}

func (h *memHive) Create(path string) (RegistryKey, error) {
	h.mu.Lock()
	if _, ok := h.keys[path]; !ok {
		h.keys[path] = make(map[string]any)
	}
	h.mu.Unlock()
	h.changed()
	return &memKey{hive: h, path: path}, nil
}

func (h *memHive) DeleteTree(path string) error {
	h.mu.Lock()
	for k := range h.keys {
		if k == path || strings.HasPrefix(k, path+`\`) {
			delete(h.keys, k)
		}
	}
	h.mu.Unlock()
	h.changed()
	return nil
}

func (h *memHive) value(path, name string) any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.keys[path][name]
}

func (h *memHive) exists(path string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.keys[path]
	return ok
}

type memKey struct {
	hive *memHive
	path string
}

func (k *memKey) set(name string, v any) error {
	k.hive.mu.Lock()
	vals, ok := k.hive.keys[k.path]
	if !ok {
		k.hive.mu.Unlock()
		return fmt.Errorf("key %s deleted", k.path)
	}
	vals[name] = v
	k.hive.mu.Unlock()
	k.hive.changed()
	return nil
}

func (k *memKey) SetDWord(name string, value uint32) error     { return k.set(name, value) }
func (k *memKey) SetString(name, value string) error           { return k.set(name, value) }
func (k *memKey) SetStrings(name string, value []string) error { return k.set(name, slices.Clone(value)) }

func (k *memKey) Strings(name string) ([]string, error) {
	k.hive.mu.Lock()
	defer k.hive.mu.Unlock()
	v, ok := k.hive.keys[k.path][name]
	if !ok {
		return nil, nil
	}
	s, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("%s is %T, not REG_MULTI_SZ", name, v)
	}
	return slices.Clone(s), nil
}

func (k *memKey) ValueNames() ([]string, error) {
	k.hive.mu.Lock()
	defer k.hive.mu.Unlock()
	return slices.Sorted(maps.Keys(k.hive.keys[k.path])), nil
}

func (k *memKey) DeleteValue(name string) error {
	k.hive.mu.Lock()
	delete(k.hive.keys[k.path], name)
	k.hive.mu.Unlock()
	k.hive.changed()
	return nil
}

func (k *memKey) Close() error { return nil }

const chromeKey = `SOFTWARE\Policies\Google\Chrome`

func TestRegistryWriter_ReplaceAndRemove(t *testing.T) {
	hive := newMemHive()
	gpo, _ := hive.Create(chromeKey)
	gpo.SetDWord("BookmarkBarEnabled", 1)

	w := NewRegistryWriter("chromium", hive, chromeKey, elevated)
	summary, err := w.Replace(model.TargetSettings{
		Values: map[string]any{
			"IncognitoModeAvailability": 1,
			"BrowserGuestModeEnabled":   false,
			"HomepageLocation":          "https://school.example",
			"ExtensionInstallForcelist": []string{"a", "b"},
			"ManagedBookmarks":          map[string]any{"name": "School"},
		},
		Identifiers: []string{"a", "b"},
	})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if summary.Location != `HKLM\`+chromeKey {
		t.Errorf("Location = %q", summary.Location)
	}
	if summary.Digest != "" {
		t.Errorf("Digest = %q, want empty for registry", summary.Digest)
	}

	tests := []struct {
		name string
		want any
	}{
		{"IncognitoModeAvailability", uint32(1)},
		{"BrowserGuestModeEnabled", uint32(0)},
		{"HomepageLocation", "https://school.example"},
		{"ManagedBookmarks", `{"name":"School"}`},
		{"BookmarkBarEnabled", uint32(1)},
	}
	for _, tt := range tests {
		if got := hive.value(chromeKey, tt.name); got != tt.want {
			t.Errorf("%s = %#v, want %#v", tt.name, got, tt.want)
		}
	}
	list := chromeKey + `\ExtensionInstallForcelist`
	if hive.value(list, "1") != "a" || hive.value(list, "2") != "b" {
		t.Errorf("forcelist subkey = %v", hive.keys[list])
	}

	// Dropping the list removes its subkey; the Group Policy value survives.
	if _, err := w.Replace(model.TargetSettings{Values: map[string]any{"IncognitoModeAvailability": 1}}); err != nil {
		t.Fatal(err)
	}
	if hive.exists(list) {
		t.Error("stale list subkey kept")
	}
	if hive.value(chromeKey, "HomepageLocation") != nil {
		t.Error("stale value HomepageLocation kept")
	}
	owned, _ := hive.value(chromeKey, OwnedKeysKey).([]string)
	if !slices.Equal(owned, []string{"IncognitoModeAvailability"}) {
		t.Errorf("owned = %v", owned)
	}

	if err := w.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if hive.value(chromeKey, "IncognitoModeAvailability") != nil || hive.value(chromeKey, OwnedKeysKey) != nil {
		t.Errorf("managed values left after Remove: %v", hive.keys[chromeKey])
	}
	if hive.value(chromeKey, "BookmarkBarEnabled") != uint32(1) {
		t.Error("Group Policy value removed")
	}
	if err := w.Remove(); err != nil {
		t.Errorf("second Remove() error = %v", err)
	}
}

func TestRegistryWriter_RemoveAbsentKey(t *testing.T) {
	hive := newMemHive()
	w := NewRegistryWriter("firefox", hive, `SOFTWARE\Policies\Mozilla\Firefox`, elevated)
	if err := w.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if hive.exists(`SOFTWARE\Policies\Mozilla\Firefox`) {
		t.Error("Remove created the key")
	}
}

func TestRegistryWriter_ListBecomesScalar(t *testing.T) {
	hive := newMemHive()
	w := NewRegistryWriter("chromium", hive, chromeKey, elevated)
	if _, err := w.Replace(model.TargetSettings{Values: map[string]any{"URLBlocklist": []any{"example.com"}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Replace(model.TargetSettings{Values: map[string]any{"URLBlocklist": "example.com"}}); err != nil {
		t.Fatal(err)
	}
	if hive.exists(chromeKey + `\URLBlocklist`) {
		t.Error("old list subkey kept after type change")
	}
	if hive.value(chromeKey, "URLBlocklist") != "example.com" {
		t.Errorf("URLBlocklist = %v", hive.value(chromeKey, "URLBlocklist"))
	}
}

func TestRegistryWriter_ReplaceNeverDropsSharedPolicies(t *testing.T) {
	hive := newMemHive()
	w := NewRegistryWriter("chromium", hive, chromeKey, elevated)
	old := model.TargetSettings{Values: map[string]any{
		"IncognitoModeAvailability": 1,
		"URLBlocklist":              []string{"a.example", "b.example", "c.example"},
		"HomepageLocation":          "https://old.example",
		"DefaultSearchProviderName": []string{"School"},
	}}
	if _, err := w.Replace(old); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	// After every single registry write the policies both documents set
	// are present, and the blocklist is never empty.
	list := chromeKey + `\URLBlocklist`
	var writes int
	hive.onChange = func() {
		writes++
		if hive.value(chromeKey, "IncognitoModeAvailability") == nil {
			t.Errorf("write %d: IncognitoModeAvailability missing", writes)
		}
		if hive.value(chromeKey, "HomepageLocation") == nil {
			t.Errorf("write %d: HomepageLocation missing", writes)
		}
		if hive.value(list, "1") == nil {
			t.Errorf("write %d: URLBlocklist empty", writes)
		}
		if hive.value(chromeKey, "DefaultSearchProviderName") == nil && hive.value(chromeKey+`\DefaultSearchProviderName`, "1") == nil {
			t.Errorf("write %d: DefaultSearchProviderName missing in both forms", writes)
		}
	}
	next := model.TargetSettings{Values: map[string]any{
		"IncognitoModeAvailability": 2,
		"URLBlocklist":              []string{"d.example"},
		"HomepageLocation":          "https://new.example",
		"DefaultSearchProviderName": "School",
	}}
	if _, err := w.Replace(next); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	hive.onChange = nil

	if writes == 0 {
		t.Fatal("Replace made no writes")
	}
	if got := hive.value(list, "1"); got != "d.example" {
		t.Errorf("URLBlocklist 1 = %v, want d.example", got)
	}
	for _, n := range []string{"2", "3"} {
		if got := hive.value(list, n); got != nil {
			t.Errorf("URLBlocklist %s = %v, want trimmed", n, got)
		}
	}
	if hive.exists(chromeKey + `\DefaultSearchProviderName`) {
		t.Error("old list subkey kept after type change")
	}
}

func TestRegistryWriter_RejectsUnrepresentable(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{"fraction", 1.5},
		{"negative", -1},
		{"null", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewRegistryWriter("chromium", newMemHive(), chromeKey, elevated)
			_, err := w.Replace(model.TargetSettings{Values: map[string]any{"X": tt.value}})
			if !errors.Is(err, curfew.ErrPlatformWrite) {
				t.Errorf("Replace() error = %v, want ErrPlatformWrite", err)
			}
		})
	}
}
