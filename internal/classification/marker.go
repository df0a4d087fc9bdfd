package classification

import (
	"regexp"
	"strconv"
)

// Source records how a marker was resolved.
type Source string

const (
	SourceName     Source = "name"     // "<name> <level>" naming a known classification
	SourceLevel    Source = "level"    // bare level looked up in the range table
	SourceFallback Source = "fallback" // unparseable, unknown or out of range
)

// Resolution is the outcome of classifying one employment marker.
type Resolution struct {
	Definition Definition
	Source     Source
	Level      int  // parsed level, after the zero remap
	HasLevel   bool // whether the marker carried a level
}

var (
	namedMarker = regexp.MustCompile(`^\s*(\S+)\s+(-?\d+)\s*$`)
	bareLevel   = regexp.MustCompile(`^\s*(-?\d+)\s*$`)
)

// Resolve classifies an employment marker.
//
// A "<name> <level>" marker resolves to <name> without consulting the range
// table. A bare level is looked up with ByLevel, with level 0 remapped to
// ZeroLevel first. Everything else resolves to the fallback.
func (r *Registry) Resolve(marker string) Resolution {
	if m := namedMarker.FindStringSubmatch(marker); m != nil {
		level, err := strconv.Atoi(m[2])
		hasLevel := err == nil
		if def, ok := r.ByName(m[1]); ok {
			return Resolution{Definition: def, Source: SourceName, Level: level, HasLevel: hasLevel}
		}
		return Resolution{Definition: r.Fallback(), Source: SourceFallback, Level: level, HasLevel: hasLevel}
	}

	if m := bareLevel.FindStringSubmatch(marker); m != nil {
		level, err := strconv.Atoi(m[1])
		if err != nil {
			return Resolution{Definition: r.Fallback(), Source: SourceFallback}
		}
		if level == 0 {
			level = r.ZeroLevel()
		}
		def := r.ByLevel(level)
		source := SourceLevel
		if def.Name == r.Fallback().Name && !def.Contains(level) {
			source = SourceFallback
		}
		return Resolution{Definition: def, Source: source, Level: level, HasLevel: true}
	}

	return Resolution{Definition: r.Fallback(), Source: SourceFallback}
}
