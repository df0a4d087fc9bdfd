package classification

import (
	"fmt"
	"strings"
)

// Definition describes one classification group.
type Definition struct {
	Name      string `yaml:"name"`
	GIDNumber int    `yaml:"gid_number"`
	LevelMin  int    `yaml:"level_min"`
	LevelMax  int    `yaml:"level_max"`
	Label     string `yaml:"label"`
	Fallback  bool   `yaml:"fallback"`
}

// Contains reports whether level falls in the definition's inclusive range.
func (d Definition) Contains(level int) bool {
	return level >= d.LevelMin && level <= d.LevelMax
}

// ValidationError lists every problem found in a classification table.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid classification table: %s", strings.Join(e.Problems, "; "))
}

// Registry is the immutable classification table for one run.
// Lookups never mutate it, so a single value can be shared freely.
type Registry struct {
	defs     []Definition
	byName   map[string]int
	fallback int
}

// New validates defs and builds a registry. Table order is preserved and
// decides which range wins when ranges overlap.
func New(defs []Definition) (*Registry, error) {
	var problems []string

	if len(defs) == 0 {
		problems = append(problems, "table is empty")
	}

	byName := make(map[string]int, len(defs))
	byGID := make(map[int]string, len(defs))
	fallback := -1

	for i, d := range defs {
		if strings.TrimSpace(d.Name) == "" {
			problems = append(problems, fmt.Sprintf("entry %d has no name", i))
			continue
		}
		if _, dup := byName[d.Name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate name %q", d.Name))
		} else {
			byName[d.Name] = i
		}
		if other, dup := byGID[d.GIDNumber]; dup {
			problems = append(problems, fmt.Sprintf("gid %d is shared by %q and %q", d.GIDNumber, other, d.Name))
		} else {
			byGID[d.GIDNumber] = d.Name
		}
		if d.GIDNumber <= 0 {
			problems = append(problems, fmt.Sprintf("%q has non-positive gid %d", d.Name, d.GIDNumber))
		}
		if d.LevelMin > d.LevelMax {
			problems = append(problems, fmt.Sprintf("%q has level_min %d greater than level_max %d", d.Name, d.LevelMin, d.LevelMax))
		}
		if d.Fallback {
			if fallback >= 0 {
				problems = append(problems, fmt.Sprintf("both %q and %q are marked as fallback", defs[fallback].Name, d.Name))
			} else {
				fallback = i
			}
		}
	}

	if len(defs) > 0 && fallback < 0 {
		problems = append(problems, "no fallback classification defined")
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	copied := make([]Definition, len(defs))
	copy(copied, defs)

	return &Registry{
		defs:     copied,
		byName:   byName,
		fallback: fallback,
	}, nil
}

// All returns the definitions in authored order.
func (r *Registry) All() []Definition {
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

// ByName looks up a definition by group name.
func (r *Registry) ByName(name string) (Definition, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Definition{}, false
	}
	return r.defs[i], true
}

// ByLevel returns the first definition whose range contains level, or the
// fallback when none does.
func (r *Registry) ByLevel(level int) Definition {
	for _, d := range r.defs {
		if d.Contains(level) {
			return d
		}
	}
	return r.Fallback()
}

// Fallback returns the catch-all classification.
func (r *Registry) Fallback() Definition {
	return r.defs[r.fallback]
}

// ZeroLevel is the level a reserved "0" marker is remapped to before lookup.
func (r *Registry) ZeroLevel() int {
	return r.Fallback().LevelMin
}
