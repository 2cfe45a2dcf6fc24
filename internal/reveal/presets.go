package reveal

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Named tick intervals, slowest last
var presets = map[string]time.Duration{
	"fast":      300 * time.Millisecond,
	"medium":    600 * time.Millisecond,
	"slow":      900 * time.Millisecond,
	"very-slow": 1200 * time.Millisecond,
}

// SpeedPreset resolves a preset name to its tick interval
func SpeedPreset(name string) (time.Duration, error) {
	d, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown reveal speed %q (expected one of %s)", name, strings.Join(Presets(), ", "))
	}
	return d, nil
}

// Presets lists the preset names from fastest to slowest
func Presets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return presets[names[i]] < presets[names[j]]
	})
	return names
}
