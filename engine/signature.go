package engine

import (
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/hermes-islands/errors"
)

// Signature is a WIT-typed view of an entry point.
// Only scalar types are supported: bool, char, integers and floats.
type Signature struct {
	text    string
	Params  []wit.Type
	Results []wit.Type
}

// ParseSignature parses "params -> results", for example "u32, u32 -> u32",
// "-> f64" or "s64". Either side may be empty. Parameters may be named
// ("a: u32").
func ParseSignature(s string) (*Signature, error) {
	params, results, _ := strings.Cut(s, "->")
	sig := &Signature{text: strings.TrimSpace(s)}

	var err error
	if sig.Params, err = parseTypeList(params); err != nil {
		return nil, err
	}
	if sig.Results, err = parseTypeList(results); err != nil {
		return nil, err
	}
	return sig, nil
}

func (s *Signature) String() string {
	return s.text
}

func parseTypeList(s string) ([]wit.Type, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if s == "" {
		return nil, nil
	}

	var types []wit.Type
	for _, part := range splitParams(s) {
		typStr := part
		if idx := strings.LastIndex(part, ":"); idx != -1 {
			typStr = strings.TrimSpace(part[idx+1:])
		}
		t, err := wit.ParseType(typStr)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseParse, errors.KindInvalidData, err, "parse type "+typStr)
		}
		if _, ok := coreType(t); !ok {
			return nil, errors.Unsupported(errors.PhaseParse, "non-scalar type "+typStr)
		}
		types = append(types, t)
	}
	return types, nil
}

// splitParams splits a comma-separated list, respecting nested parentheses.
func splitParams(s string) []string {
	var result []string
	var current strings.Builder
	depth := 0

	for _, ch := range s {
		switch ch {
		case '(', '<':
			depth++
			current.WriteRune(ch)
		case ')', '>':
			depth--
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				if str := strings.TrimSpace(current.String()); str != "" {
					result = append(result, str)
				}
				current.Reset()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}

	if str := strings.TrimSpace(current.String()); str != "" {
		result = append(result, str)
	}

	return result
}

// coreType returns the core value type a scalar WIT type flattens to.
func coreType(t wit.Type) (api.ValueType, bool) {
	switch t.(type) {
	case wit.Bool, wit.U8, wit.S8, wit.U16, wit.S16, wit.U32, wit.S32, wit.Char:
		return api.ValueTypeI32, true
	case wit.U64, wit.S64:
		return api.ValueTypeI64, true
	case wit.F32:
		return api.ValueTypeF32, true
	case wit.F64:
		return api.ValueTypeF64, true
	}
	return 0, false
}

// check verifies that the signature flattens to the given core types.
func (s *Signature) check(entry string, params, results []api.ValueType) error {
	if err := matchCore(s.Params, params); err != nil {
		return errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
			Subject(entry).
			Detail("declared params %s: %v", s, err).
			Build()
	}
	if err := matchCore(s.Results, results); err != nil {
		return errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
			Subject(entry).
			Detail("declared results %s: %v", s, err).
			Build()
	}
	return nil
}

func matchCore(declared []wit.Type, core []api.ValueType) error {
	if len(declared) != len(core) {
		return errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
			Detail("have %d values, module has %d", len(declared), len(core)).
			Build()
	}
	for i, t := range declared {
		want, _ := coreType(t)
		if want != core[i] {
			return errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
				Detail("position %d is %s, module has %s", i, api.ValueTypeName(want), api.ValueTypeName(core[i])).
				Build()
		}
	}
	return nil
}
