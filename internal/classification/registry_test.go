package classification

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinitions() []Definition {
	return []Definition{
		{Name: "exec-cls", GIDNumber: 5001, LevelMin: 90, LevelMax: 99},
		{Name: "mgr-cls", GIDNumber: 5002, LevelMin: 50, LevelMax: 89},
		{Name: "adm-cls", GIDNumber: 5003, LevelMin: 30, LevelMax: 49},
		{Name: "staff-cls", GIDNumber: 5004, LevelMin: 1, LevelMax: 29},
		{Name: "err-cls", GIDNumber: 5099, LevelMin: 900, LevelMax: 999, Fallback: true},
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		defs        []Definition
		expectError string
	}{
		{
			name: "valid table",
			defs: testDefinitions(),
		},
		{
			name:        "empty table",
			defs:        nil,
			expectError: "table is empty",
		},
		{
			name: "duplicate gid",
			defs: []Definition{
				{Name: "a", GIDNumber: 10, LevelMin: 1, LevelMax: 2},
				{Name: "b", GIDNumber: 10, LevelMin: 3, LevelMax: 4, Fallback: true},
			},
			expectError: `gid 10 is shared by "a" and "b"`,
		},
		{
			name: "duplicate name",
			defs: []Definition{
				{Name: "a", GIDNumber: 10, LevelMin: 1, LevelMax: 2},
				{Name: "a", GIDNumber: 11, LevelMin: 3, LevelMax: 4, Fallback: true},
			},
			expectError: `duplicate name "a"`,
		},
		{
			name: "missing fallback",
			defs: []Definition{
				{Name: "a", GIDNumber: 10, LevelMin: 1, LevelMax: 2},
			},
			expectError: "no fallback classification defined",
		},
		{
			name: "two fallbacks",
			defs: []Definition{
				{Name: "a", GIDNumber: 10, LevelMin: 1, LevelMax: 2, Fallback: true},
				{Name: "b", GIDNumber: 11, LevelMin: 3, LevelMax: 4, Fallback: true},
			},
			expectError: "marked as fallback",
		},
		{
			name: "inverted range",
			defs: []Definition{
				{Name: "a", GIDNumber: 10, LevelMin: 5, LevelMax: 2, Fallback: true},
			},
			expectError: "greater than level_max",
		},
		{
			name: "blank name",
			defs: []Definition{
				{Name: " ", GIDNumber: 10, LevelMin: 1, LevelMax: 2, Fallback: true},
			},
			expectError: "has no name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := New(tt.defs)
			if tt.expectError == "" {
				require.NoError(t, err)
				assert.NotNil(t, reg)
				return
			}

			require.Error(t, err)
			assert.Nil(t, reg)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestRegistry_ByLevel_Totality(t *testing.T) {
	reg, err := New(testDefinitions())
	require.NoError(t, err)

	for level := -50; level <= 1100; level++ {
		def := reg.ByLevel(level)
		require.NotEmpty(t, def.Name, "level %d resolved to nothing", level)

		matches := 0
		for _, d := range reg.All() {
			if d.Contains(level) {
				matches++
			}
		}
		if matches == 0 {
			assert.Equal(t, "err-cls", def.Name, "out-of-range level %d must land in the fallback", level)
		} else {
			assert.True(t, def.Contains(level), "level %d resolved to %s", level, def.Name)
		}
	}
}

func TestRegistry_ByLevel_FirstMatchWins(t *testing.T) {
	reg, err := New([]Definition{
		{Name: "wide", GIDNumber: 1, LevelMin: 1, LevelMax: 100},
		{Name: "narrow", GIDNumber: 2, LevelMin: 10, LevelMax: 20},
		{Name: "fallback", GIDNumber: 3, LevelMin: -1, LevelMax: -1, Fallback: true},
	})
	require.NoError(t, err)

	assert.Equal(t, "wide", reg.ByLevel(15).Name)
	assert.Equal(t, "fallback", reg.ByLevel(101).Name)
}

func TestRegistry_ByName(t *testing.T) {
	reg, err := New(testDefinitions())
	require.NoError(t, err)

	def, ok := reg.ByName("mgr-cls")
	assert.True(t, ok)
	assert.Equal(t, 5002, def.GIDNumber)

	_, ok = reg.ByName("nope")
	assert.False(t, ok)
}

func TestRegistry_IsImmutable(t *testing.T) {
	defs := testDefinitions()
	reg, err := New(defs)
	require.NoError(t, err)

	defs[0].Name = "mutated"
	all := reg.All()
	all[1].GIDNumber = 1

	assert.Equal(t, "exec-cls", reg.All()[0].Name)
	assert.Equal(t, 5002, reg.All()[1].GIDNumber)
	assert.Equal(t, "err-cls", reg.All()[4].Name)
}

func TestRegistry_Resolve(t *testing.T) {
	reg, err := New(testDefinitions())
	require.NoError(t, err)

	tests := []struct {
		name       string
		marker     string
		wantName   string
		wantSource Source
	}{
		{name: "named marker skips the range table", marker: "mgr-cls 5", wantName: "mgr-cls", wantSource: SourceName},
		{name: "named marker with extra spaces", marker: "  adm-cls   1 ", wantName: "adm-cls", wantSource: SourceName},
		{name: "unknown named marker", marker: "ceo-cls 3", wantName: "err-cls", wantSource: SourceFallback},
		{name: "bare level", marker: "42", wantName: "adm-cls", wantSource: SourceLevel},
		{name: "bare level at boundary", marker: "50", wantName: "mgr-cls", wantSource: SourceLevel},
		{name: "zero is remapped to the fallback", marker: "0", wantName: "err-cls", wantSource: SourceLevel},
		{name: "out of range level", marker: "500", wantName: "err-cls", wantSource: SourceFallback},
		{name: "negative level", marker: "-3", wantName: "err-cls", wantSource: SourceFallback},
		{name: "empty marker", marker: "", wantName: "err-cls", wantSource: SourceFallback},
		{name: "free text", marker: "contractor", wantName: "err-cls", wantSource: SourceFallback},
		{name: "name without level", marker: "mgr-cls", wantName: "err-cls", wantSource: SourceFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reg.Resolve(tt.marker)
			assert.Equal(t, tt.wantName, res.Definition.Name)
			assert.Equal(t, tt.wantSource, res.Source)
		})
	}
}

func TestRegistry_Resolve_ZeroRemap(t *testing.T) {
	reg, err := New(testDefinitions())
	require.NoError(t, err)

	res := reg.Resolve("0")
	assert.Equal(t, 900, res.Level)
	assert.True(t, res.HasLevel)
	assert.Equal(t, reg.ZeroLevel(), res.Level)
}

func TestParse(t *testing.T) {
	data := []byte(`
classifications:
  - name: mgr-cls
    gid_number: 6002
    level_min: 50
    level_max: 89
    label: Manager
  - name: err-cls
    gid_number: 6099
    level_min: 900
    level_max: 999
    fallback: true
`)

	reg, err := Parse(data)
	require.NoError(t, err)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "Manager", all[0].Label)
	assert.Equal(t, "err-cls", all[1].Label, "label defaults to the name")
	assert.Equal(t, "err-cls", reg.Fallback().Name)
}

func TestDefinition_SetDefaults(t *testing.T) {
	tests := []struct {
		name     string
		def      Definition
		expected string
	}{
		{name: "missing label takes the name", def: Definition{Name: "x-cls", GIDNumber: 1}, expected: "x-cls"},
		{name: "explicit label is kept", def: Definition{Name: "x-cls", Label: "Extra"}, expected: "Extra"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := tt.def
			require.NoError(t, defaults.Set(&def))
			assert.Equal(t, tt.expected, def.Label)
		})
	}
}

func TestParse_DuplicateGID(t *testing.T) {
	data := []byte(`
classifications:
  - {name: a, gid_number: 7, level_min: 1, level_max: 2}
  - {name: b, gid_number: 7, level_min: 3, level_max: 4, fallback: true}
`)

	_, err := Parse(data)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 1)
}

func TestLoad(t *testing.T) {
	t.Run("empty path uses built-in table", func(t *testing.T) {
		reg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, len(DefaultDefinitions()), len(reg.All()))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("classifications: [\n"), 0o600))
		_, err := Load(path)
		assert.ErrorContains(t, err, "parse classification file")
	})
}

func TestDefault(t *testing.T) {
	reg := Default()
	assert.Equal(t, "err-cls", reg.Fallback().Name)
	assert.Equal(t, "mgr-cls", reg.Resolve("mgr-cls 5").Definition.Name)
}
