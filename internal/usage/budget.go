package usage

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"curfew/internal/config"
	"curfew/internal/model"
)

// Budget returns the identity's allowance for the calendar day of date.
// A custom entry for the ISO date wins over one for the weekday name, which
// wins over the weekday/weekend default.
func Budget(id model.Identity, date time.Time) time.Duration {
	if d, ok := id.Custom[date.Format(time.DateOnly)]; ok {
		return d
	}
	if d, ok := id.Custom[strings.ToLower(date.Weekday().String())]; ok {
		return d
	}
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return id.WeekendBudget
	default:
		return id.WeekdayBudget
	}
}

// IdentitiesFromConfig converts the configured identities. Aliases are
// folded to lower case and warning thresholds sorted largest first.
func IdentitiesFromConfig(cfgs []config.IdentityConfig) []model.Identity {
	out := make([]model.Identity, 0, len(cfgs))
	for _, c := range cfgs {
		name := c.Name
		if name == "" {
			name = c.ID
		}
		aliases := make([]string, len(c.Aliases))
		for i, alias := range c.Aliases {
			aliases[i] = accountKey(alias)
		}
		warnings := slices.Clone(c.Warnings)
		slices.SortFunc(warnings, func(a, b time.Duration) int { return cmp.Compare(b, a) })
		out = append(out, model.Identity{
			ID:            c.ID,
			DisplayName:   name,
			Aliases:       aliases,
			WeekdayBudget: c.WeekdayBudget,
			WeekendBudget: c.WeekendBudget,
			Custom:        c.Custom,
			Warnings:      warnings,
			GracePeriod:   c.GracePeriod,
		})
	}
	return out
}
