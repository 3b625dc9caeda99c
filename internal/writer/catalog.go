package writer

import (
	"fmt"
	"slices"

	"curfew/internal/config"
	"curfew/internal/curfew"
	"curfew/internal/policy"
)

// Options carries what the writers need from the process.
type Options struct {
	Elevation curfew.Elevation
	Overrides map[string]config.WriterConfig
	// Hive replaces the machine registry; nil opens the native one.
	Hive RegistryHive
}

func (o Options) path(target, def string) string {
	if wc, ok := o.Overrides[target]; ok && wc.Path != "" {
		return wc.Path
	}
	return def
}

func (o Options) registryKey(target, def string) string {
	if wc, ok := o.Overrides[target]; ok && wc.RegistryKey != "" {
		return wc.RegistryKey
	}
	return def
}

func (o Options) hive() (RegistryHive, error) {
	if o.Hive != nil {
		return o.Hive, nil
	}
	return NativeHive()
}

// Variant is how one target is enforced on one operating system.
type Variant struct {
	GOOS   string
	Target string
	Build  func(o Options) (curfew.PolicyWriter, error)
}

// Variants is the full table, selected from at startup by GOOS.
var Variants = []Variant{
	{GOOS: "linux", Target: policy.TargetChromium, Build: func(o Options) (curfew.PolicyWriter, error) {
		return NewJSONFileWriter(policy.TargetChromium,
			o.path(policy.TargetChromium, "/etc/opt/chrome/policies/managed/curfew.json"), Own, "", o.Elevation), nil
	}},
	{GOOS: "linux", Target: policy.TargetFirefox, Build: func(o Options) (curfew.PolicyWriter, error) {
		return NewJSONFileWriter(policy.TargetFirefox,
			o.path(policy.TargetFirefox, "/etc/firefox/policies/policies.json"), Merge, "policies", o.Elevation), nil
	}},
	{GOOS: "darwin", Target: policy.TargetChromium, Build: func(o Options) (curfew.PolicyWriter, error) {
		return NewPlistWriter(policy.TargetChromium,
			o.path(policy.TargetChromium, "/Library/Managed Preferences/com.google.Chrome.plist"), Own, o.Elevation), nil
	}},
	{GOOS: "darwin", Target: policy.TargetFirefox, Build: func(o Options) (curfew.PolicyWriter, error) {
		w := NewPlistWriter(policy.TargetFirefox,
			o.path(policy.TargetFirefox, "/Library/Preferences/org.mozilla.firefox.plist"), Merge, o.Elevation)
		w.Fixed = map[string]any{"EnterprisePoliciesEnabled": true}
		return w, nil
	}},
	{GOOS: "windows", Target: policy.TargetChromium, Build: func(o Options) (curfew.PolicyWriter, error) {
		hive, err := o.hive()
		if err != nil {
			return nil, err
		}
		return NewRegistryWriter(policy.TargetChromium, hive,
			o.registryKey(policy.TargetChromium, `SOFTWARE\Policies\Google\Chrome`), o.Elevation), nil
	}},
	{GOOS: "windows", Target: policy.TargetFirefox, Build: func(o Options) (curfew.PolicyWriter, error) {
		hive, err := o.hive()
		if err != nil {
			return nil, err
		}
		return NewRegistryWriter(policy.TargetFirefox, hive,
			o.registryKey(policy.TargetFirefox, `SOFTWARE\Policies\Mozilla\Firefox`), o.Elevation), nil
	}},
}

// Supported lists the targets with a writer on goos.
func Supported(goos string) []string {
	var targets []string
	for _, v := range Variants {
		if v.GOOS == goos {
			targets = append(targets, v.Target)
		}
	}
	slices.Sort(targets)
	return targets
}

// New builds the writers for targets on goos. An empty targets list means
// every supported target. Asking for a target goos has no writer for is an
// error wrapping ErrUnsupported.
func New(goos string, targets []string, opts Options) ([]curfew.PolicyWriter, error) {
	if len(targets) == 0 {
		targets = Supported(goos)
	}
	var writers []curfew.PolicyWriter
	for _, target := range targets {
		idx := slices.IndexFunc(Variants, func(v Variant) bool {
			return v.GOOS == goos && v.Target == target
		})
		if idx < 0 {
			return nil, curfew.NewError(curfew.ErrUnsupported, "writer "+target,
				fmt.Errorf("no %s writer for %s", target, goos))
		}
		w, err := Variants[idx].Build(opts)
		if err != nil {
			return nil, fmt.Errorf("building %s writer: %w", target, err)
		}
		writers = append(writers, w)
	}
	return writers, nil
}
