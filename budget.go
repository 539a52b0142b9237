package hermes

import (
	"fmt"
	"strconv"
	"strings"
)

// PageSize is the size of one WebAssembly linear memory page.
const PageSize = 64 * 1024

// MaxPages is the largest page count a 32-bit linear memory can address.
const MaxPages = 65536

// Budget is the declared upper bound, in bytes, on the memory a hosted module
// may consume. The zero Budget means no bound was declared.
type Budget uint64

// Common budget units.
const (
	KiB Budget = 1 << 10
	MiB Budget = 1 << 20
	GiB Budget = 1 << 30
)

// Unbounded reports whether no limit was declared.
func (b Budget) Unbounded() bool {
	return b == 0
}

// Bytes returns the budget as a plain byte count.
func (b Budget) Bytes() uint64 {
	return uint64(b)
}

// Pages returns how many whole pages fit in the budget, clamped to
// [1, MaxPages]. Unbounded budgets return MaxPages.
func (b Budget) Pages() uint32 {
	if b.Unbounded() {
		return MaxPages
	}
	pages := uint64(b) / PageSize
	switch {
	case pages == 0:
		return 1
	case pages > MaxPages:
		return MaxPages
	}
	return uint32(pages)
}

// Exceeded reports whether usage is above a bounded budget.
func (b Budget) Exceeded(usage uint64) bool {
	return !b.Unbounded() && usage > uint64(b)
}

// String renders the budget using the largest binary unit that divides it.
func (b Budget) String() string {
	switch {
	case b.Unbounded():
		return "unbounded"
	case b%GiB == 0:
		return fmt.Sprintf("%dGiB", b/GiB)
	case b%MiB == 0:
		return fmt.Sprintf("%dMiB", b/MiB)
	case b%KiB == 0:
		return fmt.Sprintf("%dKiB", b/KiB)
	}
	return fmt.Sprintf("%dB", uint64(b))
}

var budgetUnits = []struct {
	suffix string
	scale  uint64
}{
	// longest suffixes first so "MiB" is not read as "B"
	{"KiB", uint64(KiB)},
	{"MiB", uint64(MiB)},
	{"GiB", uint64(GiB)},
	{"KB", 1000},
	{"MB", 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"K", uint64(KiB)},
	{"M", uint64(MiB)},
	{"G", uint64(GiB)},
	{"B", 1},
}

// ParseBudget parses a byte count with an optional unit suffix, e.g. "65536",
// "64MiB", "512KB" or "1G". Suffixes are case-insensitive.
func ParseBudget(s string) (Budget, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty budget")
	}
	if strings.EqualFold(s, "unbounded") {
		return 0, nil
	}

	number, scale := s, uint64(1)
	upper := strings.ToUpper(s)
	for _, u := range budgetUnits {
		if strings.HasSuffix(upper, strings.ToUpper(u.suffix)) {
			number = strings.TrimSpace(s[:len(s)-len(u.suffix)])
			scale = u.scale
			break
		}
	}

	n, err := strconv.ParseUint(number, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid budget %q: %w", s, err)
	}
	if scale > 1 && n > ^uint64(0)/scale {
		return 0, fmt.Errorf("budget %q overflows", s)
	}
	return Budget(n * scale), nil
}

// Set implements pflag.Value.
func (b *Budget) Set(s string) error {
	v, err := ParseBudget(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Type implements pflag.Value.
func (b *Budget) Type() string {
	return "budget"
}

// UnmarshalText lets budgets appear as strings in YAML and TOML plans.
func (b *Budget) UnmarshalText(text []byte) error {
	return b.Set(string(text))
}

// MarshalText renders the budget in its String form.
func (b Budget) MarshalText() ([]byte, error) {
	if b.Unbounded() {
		return []byte("0"), nil
	}
	return []byte(b.String()), nil
}
