package hermes

import "testing"

func TestParseBudget(t *testing.T) {
	tests := []struct {
		in   string
		want Budget
	}{
		{"65536", 65536},
		{"64MiB", 64 * MiB},
		{"64mib", 64 * MiB},
		{"512KiB", 512 * KiB},
		{"2GiB", 2 * GiB},
		{"1KB", 1000},
		{"3MB", 3 * 1000 * 1000},
		{"1G", GiB},
		{"16 M", 16 * MiB},
		{"100B", 100},
		{"0", 0},
		{"unbounded", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBudget(tt.in)
			if err != nil {
				t.Fatalf("ParseBudget(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseBudget(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseBudget_Invalid(t *testing.T) {
	for _, in := range []string{"", "MiB", "-1", "12XB", "99999999999999999999GiB"} {
		if _, err := ParseBudget(in); err == nil {
			t.Errorf("ParseBudget(%q) should fail", in)
		}
	}
}

func TestBudget_Pages(t *testing.T) {
	tests := []struct {
		budget Budget
		want   uint32
	}{
		{0, MaxPages},
		{1, 1},
		{PageSize, 1},
		{PageSize*3 + 10, 3},
		{64 * MiB, 1024},
		{8 * GiB, MaxPages},
	}
	for _, tt := range tests {
		if got := tt.budget.Pages(); got != tt.want {
			t.Errorf("Budget(%d).Pages() = %d, want %d", tt.budget, got, tt.want)
		}
	}
}

func TestBudget_String(t *testing.T) {
	tests := map[Budget]string{
		0:                "unbounded",
		64 * MiB:         "64MiB",
		GiB:              "1GiB",
		3 * KiB:          "3KiB",
		1000:             "1000B",
		MiB + KiB:        "1025KiB",
		Budget(PageSize): "64KiB",
	}
	for b, want := range tests {
		if got := b.String(); got != want {
			t.Errorf("Budget(%d).String() = %q, want %q", uint64(b), got, want)
		}
		back, err := ParseBudget(b.String())
		if err != nil || back != b {
			t.Errorf("round trip of %q = %d, %v", b.String(), back, err)
		}
	}
}

func TestBudget_Exceeded(t *testing.T) {
	if Budget(0).Exceeded(1 << 40) {
		t.Error("unbounded budget should never be exceeded")
	}
	if Budget(100).Exceeded(100) {
		t.Error("usage equal to budget is within budget")
	}
	if !Budget(100).Exceeded(101) {
		t.Error("usage above budget should be exceeded")
	}
}
