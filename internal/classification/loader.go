package classification

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a classification table.
//
//	classifications:
//	  - name: mgr-cls
//	    gid_number: 5002
//	    level_min: 50
//	    level_max: 89
//	    label: Manager
type File struct {
	Classifications []Definition `yaml:"classifications"`
}

// DefaultDefinitions is the built-in table used when no file is configured.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: "exec-cls", GIDNumber: 5001, LevelMin: 90, LevelMax: 99, Label: "Executive"},
		{Name: "mgr-cls", GIDNumber: 5002, LevelMin: 50, LevelMax: 89, Label: "Manager"},
		{Name: "adm-cls", GIDNumber: 5003, LevelMin: 30, LevelMax: 49, Label: "Administrative"},
		{Name: "staff-cls", GIDNumber: 5004, LevelMin: 1, LevelMax: 29, Label: "Staff"},
		{Name: "err-cls", GIDNumber: 5099, LevelMin: 900, LevelMax: 999, Label: "Unclassified", Fallback: true},
	}
}

// Default returns the registry built from DefaultDefinitions.
func Default() *Registry {
	reg, err := New(DefaultDefinitions())
	if err != nil {
		panic(fmt.Sprintf("built-in classification table is invalid: %v", err))
	}
	return reg
}

// Load reads and validates a classification table from a YAML file. An empty
// path returns the built-in table.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classification file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML classification table.
func Parse(data []byte) (*Registry, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse classification file: %w", err)
	}

	for i := range file.Classifications {
		if err := defaults.Set(&file.Classifications[i]); err != nil {
			return nil, fmt.Errorf("apply defaults to classification %d: %w", i, err)
		}
	}

	return New(file.Classifications)
}

// SetDefaults fills optional fields of an entry read from a file. A missing
// label falls back to the group name.
func (d *Definition) SetDefaults() {
	if defaults.CanUpdate(d.Label) {
		d.Label = d.Name
	}
}
