package writer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"howett.net/plist"

	"curfew/internal/model"
)

func readPlist(t *testing.T, path string) (map[string]any, int) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	format, err := plist.Unmarshal(data, &doc)
	if err != nil {
		t.Fatalf("parsing %s: %v", path, err)
	}
	return doc, format
}

func TestPlistWriter_Own(t *testing.T) {
	path := filepath.Join(t.TempDir(), "com.google.Chrome.plist")
	w := NewPlistWriter("chromium", path, Own, elevated)

	summary, err := w.Replace(model.TargetSettings{Values: map[string]any{
		"IncognitoModeAvailability": float64(1),
		"ExtensionInstallForcelist": []string{"a", "b"},
		"HomepageLocation":          "https://school.example",
	}})
	if err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	doc, _ := readPlist(t, path)
	if doc["IncognitoModeAvailability"] != uint64(1) {
		t.Errorf("IncognitoModeAvailability = %#v, want integer 1", doc["IncognitoModeAvailability"])
	}
	list, _ := doc["ExtensionInstallForcelist"].([]any)
	if len(list) != 2 || list[0] != "a" {
		t.Errorf("ExtensionInstallForcelist = %v", doc["ExtensionInstallForcelist"])
	}
	if digest, _ := w.CurrentDigest(); digest != summary.Digest {
		t.Errorf("CurrentDigest() = %s, want %s", digest, summary.Digest)
	}

	if err := w.Remove(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("plist still present: %v", err)
	}
}

func TestPlistWriter_Merge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "org.mozilla.firefox.plist")
	existing, err := plist.Marshal(map[string]any{"browser.startup.homepage": "about:home"}, plist.BinaryFormat)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, existing, 0644); err != nil {
		t.Fatal(err)
	}

	w := NewPlistWriter("firefox", path, Merge, elevated)
	w.Fixed = map[string]any{"EnterprisePoliciesEnabled": true}

	if _, err := w.Replace(model.TargetSettings{Values: map[string]any{"DisableTelemetry": true}}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	doc, format := readPlist(t, path)
	if format != plist.BinaryFormat {
		t.Errorf("format = %d, want binary", format)
	}
	if doc["browser.startup.homepage"] != "about:home" {
		t.Error("foreign preference lost")
	}
	if doc["DisableTelemetry"] != true || doc["EnterprisePoliciesEnabled"] != true {
		t.Errorf("managed keys missing: %v", doc)
	}
	owned, _ := stringList(doc[OwnedKeysKey])
	if len(owned) != 2 {
		t.Errorf("%s = %v, want 2 keys", OwnedKeysKey, owned)
	}

	if err := w.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	doc, _ = readPlist(t, path)
	if len(doc) != 1 || doc["browser.startup.homepage"] != "about:home" {
		t.Errorf("after Remove = %v, want only the foreign preference", doc)
	}
}

func TestPlistWriter_RejectsNull(t *testing.T) {
	w := NewPlistWriter("chromium", filepath.Join(t.TempDir(), "x.plist"), Own, elevated)
	if _, err := w.Replace(model.TargetSettings{Values: map[string]any{"Homepage": nil}}); err == nil {
		t.Error("Replace() with null value succeeded")
	}
}
