// Package plan runs a set of islands described in a YAML or TOML file.
//
//	islands:
//	  - name: A
//	    module: add.wasm
//	    entry: add
//	    args: ["2", "3"]
//	    signature: "u32, u32 -> u32"
//	    budget: 16MiB
//	    timeout: 2s
//
// Every island in a plan runs concurrently on one VM and reports on its bus.
package plan

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	hermes "github.com/wippyai/hermes-islands"
	"github.com/wippyai/hermes-islands/errors"
)

// DefaultEntry is used when an island names no entry point.
const DefaultEntry = "main"

// IslandSpec describes one island of a plan.
type IslandSpec struct {
	Name      string   `yaml:"name" toml:"name"`
	Module    string   `yaml:"module" toml:"module"`
	Entry     string   `yaml:"entry" toml:"entry"`
	Signature string   `yaml:"signature" toml:"signature"`
	Budget    string   `yaml:"budget" toml:"budget"`
	Timeout   string   `yaml:"timeout" toml:"timeout"`
	Args      []string `yaml:"args" toml:"args"`
	Repeat    int      `yaml:"repeat" toml:"repeat"`
}

// Plan is a parsed plan file.
type Plan struct {
	Islands []IslandSpec `yaml:"islands" toml:"islands"`
}

// Format is a plan encoding.
type Format string

const (
	YAML Format = "yaml"
	TOML Format = "toml"
)

// FormatOf picks the format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	}
	return "", errors.Unsupported(errors.PhaseParse, "plan file extension "+filepath.Ext(path))
}

// Load reads and parses the plan at path.
func Load(path string) (*Plan, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseParse, errors.KindNotFound).
			Subject(path).
			Cause(err).
			Build()
	}
	return Parse(data, format)
}

// Parse decodes a plan and validates it. Unknown keys are rejected.
func Parse(data []byte, format Format) (*Plan, error) {
	var p Plan
	switch format {
	case YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return nil, errors.ParseFailed("yaml plan", err)
		}
	case TOML:
		md, err := toml.Decode(string(data), &p)
		if err != nil {
			return nil, errors.ParseFailed("toml plan", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.New(errors.PhaseParse, errors.KindInvalidData).
				Detail("unknown keys in toml plan: %v", undecoded).
				Build()
		}
	default:
		return nil, errors.Unsupported(errors.PhaseParse, "plan format "+string(format))
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every island spec.
func (p *Plan) Validate() error {
	if len(p.Islands) == 0 {
		return errors.InvalidInput(errors.PhaseParse, "plan has no islands")
	}
	for i := range p.Islands {
		if err := p.Islands[i].validate(i); err != nil {
			return err
		}
	}
	return nil
}

func (s *IslandSpec) validate(idx int) error {
	if s.Name == "" {
		s.Name = fmt.Sprintf("island-%d", idx)
	}
	if s.Module == "" {
		return errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Subject(s.Name).
			Detail("module is required").
			Build()
	}
	if s.Repeat < 0 {
		return errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Subject(s.Name).
			Detail("repeat must not be negative").
			Build()
	}
	if _, err := s.budget(0); err != nil {
		return err
	}
	if _, err := s.timeout(); err != nil {
		return err
	}
	return nil
}

// EntryPoint returns the entry to invoke.
func (s IslandSpec) EntryPoint() string {
	if s.Entry == "" {
		return DefaultEntry
	}
	return s.Entry
}

// Runs returns how many times the entry point is invoked.
func (s IslandSpec) Runs() int {
	if s.Repeat == 0 {
		return 1
	}
	return s.Repeat
}

func (s IslandSpec) budget(def hermes.Budget) (hermes.Budget, error) {
	if s.Budget == "" {
		return def, nil
	}
	b, err := hermes.ParseBudget(s.Budget)
	if err != nil {
		return 0, errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Subject(s.Name).
			Cause(err).
			Build()
	}
	return b, nil
}

func (s IslandSpec) timeout() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d < 0 {
		return 0, errors.New(errors.PhaseParse, errors.KindInvalidInput).
			Subject(s.Name).
			Cause(err).
			Detail("invalid timeout %q", s.Timeout).
			Build()
	}
	return d, nil
}
