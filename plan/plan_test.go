package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hermes "github.com/wippyai/hermes-islands"
	"github.com/wippyai/hermes-islands/errors"
)

const yamlPlan = `
islands:
  - name: A
    module: add.wasm
    entry: add
    args: ["2", "3"]
    signature: "u32, u32 -> u32"
    budget: 16MiB
    timeout: 2s
  - module: spin.wasm
    repeat: 3
`

const tomlPlan = `
[[islands]]
name = "A"
module = "add.wasm"
entry = "add"
args = ["2", "3"]
signature = "u32, u32 -> u32"
budget = "16MiB"
timeout = "2s"

[[islands]]
module = "spin.wasm"
repeat = 3
`

func TestParse(t *testing.T) {
	for format, data := range map[Format]string{YAML: yamlPlan, TOML: tomlPlan} {
		t.Run(string(format), func(t *testing.T) {
			p, err := Parse([]byte(data), format)
			require.NoError(t, err)
			require.Len(t, p.Islands, 2)

			a := p.Islands[0]
			assert.Equal(t, "A", a.Name)
			assert.Equal(t, "add", a.EntryPoint())
			assert.Equal(t, []string{"2", "3"}, a.Args)
			assert.Equal(t, 1, a.Runs())
			b, err := a.budget(0)
			require.NoError(t, err)
			assert.Equal(t, 16*hermes.MiB, b)

			second := p.Islands[1]
			assert.Equal(t, "island-1", second.Name, "unnamed islands get a positional name")
			assert.Equal(t, DefaultEntry, second.EntryPoint())
			assert.Equal(t, 3, second.Runs())
			b, err = second.budget(8 * hermes.MiB)
			require.NoError(t, err)
			assert.Equal(t, 8*hermes.MiB, b, "default budget applies")
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
		kind   errors.Kind
	}{
		{"empty", "islands: []\n", YAML, errors.KindInvalidInput},
		{"no module", "islands:\n  - name: A\n", YAML, errors.KindInvalidInput},
		{"bad budget", "islands:\n  - module: m\n    budget: lots\n", YAML, errors.KindInvalidInput},
		{"bad timeout", "islands:\n  - module: m\n    timeout: soon\n", YAML, errors.KindInvalidInput},
		{"negative repeat", "islands:\n  - module: m\n    repeat: -1\n", YAML, errors.KindInvalidInput},
		{"unknown yaml key", "islands:\n  - module: m\n    budgett: 1\n", YAML, errors.KindInvalidData},
		{"unknown toml key", "[[islands]]\nmodule = \"m\"\nmodel = \"x\"\n", TOML, errors.KindInvalidData},
		{"broken yaml", "islands: [\n", YAML, errors.KindInvalidData},
		{"broken toml", "[[islands\n", TOML, errors.KindInvalidData},
		{"unknown format", "{}", Format("json"), errors.KindUnsupported},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.data), tc.format)
			require.Error(t, err)
			assert.Equal(t, errors.PhaseParse, errors.PhaseOf(err))
			assert.True(t, errors.IsKind(err, tc.kind), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{"plan.yml": yamlPlan, "plan.toml": tomlPlan} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

		p, err := Load(path)
		require.NoError(t, err, name)
		assert.Len(t, p.Islands, 2, name)
	}

	_, err := Load(filepath.Join(dir, "plan.ini"))
	assert.True(t, errors.IsKind(err, errors.KindUnsupported))

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}
