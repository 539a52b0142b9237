package engine

import (
	"io"
	"strings"

	"github.com/wippyai/hermes-islands/errors"
)

// NativeAccess selects the host modules a guest may import.
type NativeAccess string

const (
	NativeNone   NativeAccess = "none"
	NativeBridge NativeAccess = "bridge"
	NativeWASI   NativeAccess = "wasi"
)

// ParseNativeAccess parses a policy name, case-insensitively.
func ParseNativeAccess(s string) (NativeAccess, error) {
	switch p := NativeAccess(strings.ToLower(strings.TrimSpace(s))); p {
	case NativeNone, NativeBridge, NativeWASI:
		return p, nil
	}
	return "", errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Subject("native-access").
		Value(s).
		Detail("unknown native access policy %q (want none, bridge or wasi)", s).
		Build()
}

func (p NativeAccess) allows(module string) bool {
	switch module {
	case BridgeModule:
		return p == NativeBridge || p == NativeWASI
	case wasiModule:
		return p == NativeWASI
	}
	return false
}

// BudgetPolicy selects how a module's memory budget is enforced.
type BudgetPolicy string

const (
	// BudgetHard caps the runtime's memory at the budget.
	BudgetHard BudgetPolicy = "hard"
	// BudgetAdvisory lets memory grow and fails calls that end over budget.
	BudgetAdvisory BudgetPolicy = "advisory"
)

// ParseBudgetPolicy parses a policy name, case-insensitively.
func ParseBudgetPolicy(s string) (BudgetPolicy, error) {
	switch p := BudgetPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case BudgetHard, BudgetAdvisory:
		return p, nil
	}
	return "", errors.New(errors.PhaseConfig, errors.KindInvalidInput).
		Subject("budget-policy").
		Value(s).
		Detail("unknown budget policy %q (want hard or advisory)", s).
		Build()
}

// Config holds configuration for Host creation
type Config struct {
	// Stdout and Stderr receive guest output under the wasi policy.
	// Nil discards output.
	Stdout io.Writer
	Stderr io.Writer

	// ArtifactPath is the directory relative module paths resolve against.
	// Empty means the working directory.
	ArtifactPath string

	// RuntimeHome holds the on-disk compilation cache.
	// Empty means an in-memory cache shared by the host's runtimes.
	RuntimeHome string

	// NativeAccess defaults to NativeBridge.
	NativeAccess NativeAccess

	// BudgetPolicy defaults to BudgetHard.
	BudgetPolicy BudgetPolicy
}

func (c Config) withDefaults() Config {
	if c.NativeAccess == "" {
		c.NativeAccess = NativeBridge
	}
	if c.BudgetPolicy == "" {
		c.BudgetPolicy = BudgetHard
	}
	return c
}

func (c Config) validate() error {
	if _, err := ParseNativeAccess(string(c.NativeAccess)); err != nil {
		return err
	}
	if _, err := ParseBudgetPolicy(string(c.BudgetPolicy)); err != nil {
		return err
	}
	return nil
}
