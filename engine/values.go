package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
	"go.bytecodealliance.org/wit"

	"github.com/wippyai/hermes-islands/errors"
)

// lowerArgs converts Go values into the core stack representation. When sig
// is nil the core types decide the conversion.
func lowerArgs(entry string, def api.FunctionDefinition, sig *Signature, args []any) ([]uint64, error) {
	params := def.ParamTypes()
	if len(args) != len(params) {
		return nil, errors.New(errors.PhaseInvoke, errors.KindInvalidInput).
			Subject(entry).
			Detail("expected %d arguments, got %d", len(params), len(args)).
			Build()
	}

	stack := make([]uint64, len(params))
	for i, arg := range args {
		var (
			v   uint64
			err error
		)
		if sig != nil {
			v, err = lowerWIT(sig.Params[i], arg)
		} else {
			v, err = lowerCore(params[i], arg)
		}
		if err != nil {
			return nil, errors.New(errors.PhaseInvoke, errors.KindTypeMismatch).
				Subject(entry).
				Value(arg).
				Detail("argument %d: %v", i, err).
				Build()
		}
		stack[i] = v
	}
	return stack, nil
}

func lowerCore(t api.ValueType, arg any) (uint64, error) {
	switch t {
	case api.ValueTypeI32:
		n, err := asInt(arg, 32)
		if err != nil {
			return 0, err
		}
		return api.EncodeI32(int32(n)), nil
	case api.ValueTypeI64:
		n, err := asInt(arg, 64)
		if err != nil {
			return 0, err
		}
		return api.EncodeI64(n), nil
	case api.ValueTypeF32:
		f, err := asFloat(arg)
		if err != nil {
			return 0, err
		}
		return api.EncodeF32(float32(f)), nil
	case api.ValueTypeF64:
		f, err := asFloat(arg)
		if err != nil {
			return 0, err
		}
		return api.EncodeF64(f), nil
	}
	return 0, errors.Unsupported(errors.PhaseInvoke, "value type "+api.ValueTypeName(t))
}

func lowerWIT(t wit.Type, arg any) (uint64, error) {
	switch t.(type) {
	case wit.Bool:
		b, err := asBool(arg)
		if err != nil {
			return 0, err
		}
		if b {
			return 1, nil
		}
		return 0, nil
	case wit.U8:
		return lowerUnsigned(arg, 8)
	case wit.U16:
		return lowerUnsigned(arg, 16)
	case wit.U32:
		return lowerUnsigned(arg, 32)
	case wit.U64:
		return lowerUnsigned(arg, 64)
	case wit.S8:
		return lowerSigned(arg, 8)
	case wit.S16:
		return lowerSigned(arg, 16)
	case wit.S32:
		return lowerSigned(arg, 32)
	case wit.S64:
		n, err := asInt(arg, 64)
		if err != nil {
			return 0, err
		}
		return api.EncodeI64(n), nil
	case wit.Char:
		r, err := asRune(arg)
		if err != nil {
			return 0, err
		}
		return api.EncodeU32(uint32(r)), nil
	default:
		if ct, ok := coreType(t); ok {
			return lowerCore(ct, arg)
		}
	}
	return 0, errors.Unsupported(errors.PhaseInvoke, fmt.Sprintf("WIT type %T", t))
}

func lowerUnsigned(arg any, bits int) (uint64, error) {
	n, err := asUint(arg, bits)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// lowerSigned only takes the signed range, so every value has one encoding:
// s8 -1 lowers sign-extended, and 255 is out of range.
func lowerSigned(arg any, bits int) (uint64, error) {
	n, err := asInt(arg, bits)
	if err != nil {
		return 0, err
	}
	if n < -int64(1)<<(bits-1) || n > int64(1)<<(bits-1)-1 {
		return 0, strconv.ErrRange
	}
	return api.EncodeI32(int32(n)), nil
}

// liftResults converts raw results into Go values.
func liftResults(def api.FunctionDefinition, sig *Signature, raw []uint64) []any {
	if len(raw) == 0 {
		return nil
	}
	out := make([]any, len(raw))
	types := def.ResultTypes()
	for i, v := range raw {
		if sig != nil {
			out[i] = liftWIT(sig.Results[i], v)
		} else {
			out[i] = liftCore(types[i], v)
		}
	}
	return out
}

func liftCore(t api.ValueType, v uint64) any {
	switch t {
	case api.ValueTypeI32:
		return api.DecodeI32(v)
	case api.ValueTypeI64:
		return int64(v)
	case api.ValueTypeF32:
		return api.DecodeF32(v)
	case api.ValueTypeF64:
		return api.DecodeF64(v)
	}
	return v
}

func liftWIT(t wit.Type, v uint64) any {
	switch t.(type) {
	case wit.Bool:
		return uint32(v) != 0
	case wit.U8:
		return uint8(v)
	case wit.U16:
		return uint16(v)
	case wit.U32:
		return api.DecodeU32(v)
	case wit.U64:
		return v
	case wit.S8:
		return int8(v)
	case wit.S16:
		return int16(v)
	case wit.S32:
		return api.DecodeI32(v)
	case wit.S64:
		return int64(v)
	case wit.F32:
		return api.DecodeF32(v)
	case wit.F64:
		return api.DecodeF64(v)
	case wit.Char:
		return rune(api.DecodeU32(v))
	}
	return v
}

func asInt(arg any, bits int) (int64, error) {
	var n int64
	switch v := arg.(type) {
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, strconv.ErrRange
		}
		n = int64(v)
	case uint64:
		if bits == 64 {
			return int64(v), nil
		}
		if v > math.MaxInt64 {
			return 0, strconv.ErrRange
		}
		n = int64(v)
	case bool:
		if v {
			n = 1
		}
	case string:
		p, err := strconv.ParseInt(strings.TrimSpace(v), 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(strings.TrimSpace(v), 0, 64)
			if uerr != nil {
				return 0, err
			}
			return asInt(u, bits)
		}
		n = p
	default:
		return 0, errors.TypeMismatch(errors.PhaseInvoke, "", arg, "integer")
	}

	// Core i32 accepts both the signed and unsigned range so that 0xFFFFFFFF
	// lowers the way a guest would see it. Signed WIT types narrow this.
	if bits < 64 {
		lo := -int64(1) << (bits - 1)
		hi := int64(1)<<bits - 1
		if n < lo || n > hi {
			return 0, strconv.ErrRange
		}
	}
	return n, nil
}

func asUint(arg any, bits int) (uint64, error) {
	if s, ok := arg.(string); ok {
		u, err := strconv.ParseUint(strings.TrimSpace(s), 0, bits)
		if err != nil {
			return 0, err
		}
		return u, nil
	}
	if u, ok := arg.(uint64); ok {
		if bits < 64 && u>>bits != 0 {
			return 0, strconv.ErrRange
		}
		return u, nil
	}
	n, err := asInt(arg, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 || (bits < 64 && uint64(n)>>bits != 0) {
		return 0, strconv.ErrRange
	}
	return uint64(n), nil
}

func asFloat(arg any) (float64, error) {
	switch v := arg.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	}
	n, err := asInt(arg, 64)
	if err != nil {
		return 0, errors.TypeMismatch(errors.PhaseInvoke, "", arg, "float")
	}
	return float64(n), nil
}

func asBool(arg any) (bool, error) {
	switch v := arg.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	}
	n, err := asInt(arg, 64)
	if err != nil {
		return false, errors.TypeMismatch(errors.PhaseInvoke, "", arg, "bool")
	}
	return n != 0, nil
}

// asRune accepts Unicode scalar values only. Surrogates and values past
// U+10FFFF are rejected, as is a string that is not exactly one valid rune.
func asRune(arg any) (rune, error) {
	var r rune
	switch v := arg.(type) {
	case rune:
		r = v
	case string:
		if utf8.RuneCountInString(v) != 1 {
			return 0, errors.TypeMismatch(errors.PhaseInvoke, "", arg, "char")
		}
		var size int
		r, size = utf8.DecodeRuneInString(v)
		if r == utf8.RuneError && size <= 1 {
			return 0, errors.TypeMismatch(errors.PhaseInvoke, "", arg, "char")
		}
	default:
		n, err := asInt(arg, 64)
		if err != nil {
			return 0, err
		}
		if n < 0 || n > utf8.MaxRune {
			return 0, errors.TypeMismatch(errors.PhaseInvoke, "", arg, "char")
		}
		r = rune(n)
	}
	if !utf8.ValidRune(r) {
		return 0, errors.TypeMismatch(errors.PhaseInvoke, "", arg, "char")
	}
	return r, nil
}
