package policy

import (
	"fmt"
	"maps"
	"slices"
	"sort"

	"curfew/internal/curfew"
	"curfew/internal/model"
)

// Managed targets.
const (
	TargetChromium = "chromium"
	TargetFirefox  = "firefox"
)

// toggleRule maps a privacy toggle onto a browser policy key.
type toggleRule struct {
	key   string
	value func(enabled bool) any
}

func boolKey(key string) toggleRule {
	return toggleRule{key: key, value: func(on bool) any { return on }}
}

func invertedKey(key string) toggleRule {
	return toggleRule{key: key, value: func(on bool) any { return !on }}
}

var toggleRules = map[string]map[string]toggleRule{
	TargetChromium: {
		// IncognitoModeAvailability: 0 available, 1 disabled.
		"incognito": {key: "IncognitoModeAvailability", value: func(on bool) any {
			if on {
				return 0
			}
			return 1
		}},
		"guestMode":       boolKey("BrowserGuestModeEnabled"),
		"telemetry":       boolKey("MetricsReportingEnabled"),
		"safeSearch":      boolKey("ForceGoogleSafeSearch"),
		// ForceYouTubeRestrict: 0 off, 2 strict.
		"youtubeRestrict": {key: "ForceYouTubeRestrict", value: func(on bool) any {
			if on {
				return 2
			}
			return 0
		}},
		"devTools": {key: "DeveloperToolsAvailability", value: func(on bool) any {
			if on {
				return 0
			}
			return 2
		}},
		"addPerson": boolKey("BrowserAddPersonEnabled"),
	},
	TargetFirefox: {
		"incognito": invertedKey("DisablePrivateBrowsing"),
		"telemetry": invertedKey("DisableTelemetry"),
		"devTools":  invertedKey("DisableDeveloperTools"),
		"addPerson": invertedKey("DisableProfileRefresh"),
	},
}

// DefaultTranslator maps document sections onto Chromium and Firefox
// enterprise policy keys.
type DefaultTranslator struct{}

var _ curfew.Translator = DefaultTranslator{}

// Translate builds the complete key set for one target. Keys from the
// settings blob may not collide with keys derived from forceInstall or
// privacy toggles.
func (DefaultTranslator) Translate(target string, p model.TargetPolicy) (model.TargetSettings, error) {
	rules, ok := toggleRules[target]
	if !ok {
		return model.TargetSettings{}, curfew.NewError(curfew.ErrUnsupported, "translate "+target, nil)
	}

	ids := slices.Clone(p.ForceInstall)
	sort.Strings(ids)
	ids = slices.Compact(ids)

	values := make(map[string]any)
	derived := make(map[string]bool)

	if len(ids) > 0 {
		switch target {
		case TargetChromium:
			values["ExtensionInstallForcelist"] = ids
			derived["ExtensionInstallForcelist"] = true
		case TargetFirefox:
			ext := make(map[string]any, len(ids))
			for _, id := range ids {
				ext[id] = map[string]any{
					"installation_mode": "force_installed",
					"install_url":       "https://addons.mozilla.org/firefox/downloads/latest/" + id + "/latest.xpi",
				}
			}
			values["ExtensionSettings"] = ext
			derived["ExtensionSettings"] = true
		}
	}

	for _, name := range slices.Sorted(maps.Keys(p.Privacy)) {
		rule, ok := rules[name]
		if !ok {
			return model.TargetSettings{}, curfew.NewError(curfew.ErrDocumentInvalid, "translate "+target,
				fmt.Errorf("unknown privacy toggle %q", name))
		}
		values[rule.key] = rule.value(p.Privacy[name])
		derived[rule.key] = true
	}

	for key, v := range p.Settings {
		if derived[key] {
			return model.TargetSettings{}, curfew.NewError(curfew.ErrDocumentInvalid, "translate "+target,
				fmt.Errorf("setting %q conflicts with a forceInstall or privacy rule", key))
		}
		values[key] = v
	}

	return model.TargetSettings{
		Values:      values,
		Identifiers: ids,
		Toggles:     maps.Clone(p.Privacy),
	}, nil
}

// Targets lists the targets DefaultTranslator understands.
func Targets() []string {
	return slices.Sorted(maps.Keys(toggleRules))
}
