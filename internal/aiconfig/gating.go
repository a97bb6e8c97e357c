package aiconfig

import "strings"

// GatingMode selects how ActiveOutsideHours is interpreted.
type GatingMode string

const (
	// GatingLegacy keeps the historical rule: outside working hours the
	// assistant always activates, during working hours only when
	// ActiveOutsideHours is set.
	GatingLegacy GatingMode = "legacy"
	// GatingAsNamed makes the flag mean what it says: during working hours
	// the assistant activates, outside them only when ActiveOutsideHours is set.
	GatingAsNamed GatingMode = "as_named"
)

// ParseGatingMode maps a config string to a mode, defaulting to GatingLegacy.
func ParseGatingMode(v string) GatingMode {
	switch GatingMode(strings.ToLower(strings.TrimSpace(v))) {
	case GatingAsNamed:
		return GatingAsNamed
	default:
		return GatingLegacy
	}
}

// ShouldActivate applies the gating rule. It does not look at Enabled.
func (m GatingMode) ShouldActivate(cfg Config, workingHours bool) bool {
	if m == GatingAsNamed {
		if workingHours {
			return true
		}
		return cfg.ActiveOutsideHours
	}
	if workingHours {
		return cfg.ActiveOutsideHours
	}
	return true
}
