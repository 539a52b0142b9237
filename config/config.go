// Package config loads hermes settings from flags, environment and an
// optional config file.
//
// Precedence, highest first: explicitly set flags, HERMES_* environment
// variables, the config file, flag defaults. The config file may be in any
// format viper understands; the extension decides.
package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	hermes "github.com/wippyai/hermes-islands"
	"github.com/wippyai/hermes-islands/engine"
	"github.com/wippyai/hermes-islands/errors"
	"github.com/wippyai/hermes-islands/internal/logging"
)

const (
	ArtifactPathKey = "artifact-path"
	RuntimeHomeKey  = "runtime-home"
	NativeAccessKey = "native-access"
	BudgetPolicyKey = "budget-policy"
	BudgetKey       = "budget"
	LogLevelKey     = "log-level"
	LogFormatKey    = "log-format"
	MetricsAddrKey  = "metrics-addr"
	ConfigFileKey   = "config"

	EnvPrefix = "HERMES"

	DefaultBudget = 64 * hermes.MiB
)

// Config is the resolved configuration.
type Config struct {
	ArtifactPath string
	RuntimeHome  string
	NativeAccess engine.NativeAccess
	BudgetPolicy engine.BudgetPolicy
	LogLevel     string
	LogFormat    string
	MetricsAddr  string
	File         string
	Budget       hermes.Budget
}

// AddFlags registers every configuration flag on fs.
func AddFlags(fs *pflag.FlagSet) {
	budget := DefaultBudget

	fs.String(ArtifactPathKey, "", "Directory relative module paths resolve against")
	fs.String(RuntimeHomeKey, "", "Compilation cache directory (empty: in-memory)")
	fs.String(NativeAccessKey, string(engine.NativeBridge), "Host modules guests may import: none, bridge or wasi")
	fs.String(BudgetPolicyKey, string(engine.BudgetHard), "Budget enforcement: hard or advisory")
	fs.Var(&budget, BudgetKey, "Default island memory budget, e.g. 64MiB (unbounded: no limit)")
	fs.String(LogLevelKey, "info", "Log level: debug, info, warn, error")
	fs.String(LogFormatKey, logging.FormatConsole, "Log format: json or console")
	fs.String(MetricsAddrKey, "", "Serve Prometheus metrics on this address (empty: disabled)")
	fs.String(ConfigFileKey, "", "Config file (yaml, toml or json)")
}

// Load resolves configuration from fs, which must already be parsed.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "bind flags")
	}

	if file := v.GetString(ConfigFileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
				Subject(file).
				Cause(err).
				Detail("read config file").
				Build()
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ArtifactPath: v.GetString(ArtifactPathKey),
		RuntimeHome:  v.GetString(RuntimeHomeKey),
		LogLevel:     v.GetString(LogLevelKey),
		LogFormat:    v.GetString(LogFormatKey),
		MetricsAddr:  v.GetString(MetricsAddrKey),
		File:         v.ConfigFileUsed(),
	}

	var err error
	if cfg.NativeAccess, err = engine.ParseNativeAccess(v.GetString(NativeAccessKey)); err != nil {
		return nil, err
	}
	if cfg.BudgetPolicy, err = engine.ParseBudgetPolicy(v.GetString(BudgetPolicyKey)); err != nil {
		return nil, err
	}
	if cfg.Budget, err = hermes.ParseBudget(v.GetString(BudgetKey)); err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Subject(BudgetKey).
			Cause(err).
			Build()
	}
	return cfg, nil
}

// Engine returns the host configuration.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		ArtifactPath: c.ArtifactPath,
		RuntimeHome:  c.RuntimeHome,
		NativeAccess: c.NativeAccess,
		BudgetPolicy: c.BudgetPolicy,
	}
}
