// Package config loads the process-wide, read-only configuration record.
// It is loaded once at startup and never mutated afterward.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the top-level configuration record. Tags are used by Viper to
// map YAML keys (and PROCWATCH_-prefixed environment variables) to fields.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	APIPort  string `mapstructure:"api_port"`

	MinScore  float64 `mapstructure:"min_score"`
	CPUHigh   float64 `mapstructure:"cpu_high"`
	MLWeight  float64 `mapstructure:"ml_weight"`
	TopK      int     `mapstructure:"topk"`
	Ports     string  `mapstructure:"ports"`
	UseSklearn bool   `mapstructure:"use_sklearn"`

	Weights   map[string]float64 `mapstructure:"weights"`
	Whitelist WhitelistConfig    `mapstructure:"whitelist"`
}

// WhitelistConfig is the whitelist's four match classes as read from
// configuration.
type WhitelistConfig struct {
	Names    []string `mapstructure:"names"`
	Users    []string `mapstructure:"users"`
	Patterns []string `mapstructure:"patterns"`
	Hashes   []string `mapstructure:"hashes"`
	Paths    []string `mapstructure:"paths"`
}

// defaultWeights mirrors the tuned defaults documented in spec.md §8's
// worked examples.
func defaultWeights() map[string]float64 {
	return map[string]float64{
		"deleted_exe":        4,
		"memfd_exe":          4,
		"tmp_exe":            3,
		"world_writable_exe": 2,
		"wx_mem":             3,
		"empty_cmdline":      1,
		"short_cmdline":      1,
		"obfuscated_cmdline": 2,
		"code_exec_cmdline":  1,
		"name_argv_mismatch": 1,
		"unusual_parent":     3,
		"ld_preload":         2,
		"ptraced":            5,
		"high_cpu":           1,
		"no_tty":             3,
		"watched_port":       2,
		"many_conns":         1,
		"no_exe":             1,
	}
}

func defaultWhitelist() WhitelistConfig {
	return WhitelistConfig{
		Names: []string{"systemd", "kthreadd", "kworker", "sshd", "cron", "bash", "NetworkManager", "journald"},
		Users: []string{"0", "root"},
		Patterns: []string{
			"/usr/*", "/bin/*", "/sbin/*", "(sd-pam)", "kworker*", "ksoftirqd*",
			"rcu*", "migration*", "idle_inject*", "cpuhp*",
		},
		Hashes: []string{},
		Paths:  []string{},
	}
}

// searchPaths returns the config file locations to try, in the order
// spec.md §6 specifies: explicit path first, then the two well-known
// home-directory locations.
func searchPaths(explicit string) []string {
	var paths []string
	if explicit != "" {
		paths = append(paths, explicit)
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".procwatch.yaml"))
		paths = append(paths, filepath.Join(home, ".config", "procwatch", "config.yaml"))
	}
	return paths
}

// Load builds the configuration record: built-in defaults, overridden by
// the first readable file in the search order, overridden by PROCWATCH_-
// prefixed environment variables. A config file that cannot be parsed is a
// fatal error; a config file that is simply absent is not — the search
// continues to the next candidate, and falls back to defaults with a
// logged warning if none exist.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("log_level", "info")
	v.SetDefault("api_port", "8080")
	v.SetDefault("min_score", 3.0)
	v.SetDefault("cpu_high", 90.0)
	v.SetDefault("ml_weight", 2.0)
	v.SetDefault("topk", 20)
	v.SetDefault("ports", "3333,4444,5555,6666,7777,14444,33333")
	v.SetDefault("use_sklearn", false)
	v.SetDefault("weights", defaultWeights())
	v.SetDefault("whitelist", defaultWhitelist())

	v.SetEnvPrefix("PROCWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var loaded bool
	for _, path := range searchPaths(explicitPath) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("loaded configuration")
		loaded = true
		break
	}
	if !loaded {
		log.Warn().Msg("no config file found in search path, using defaults and environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Weights == nil {
		cfg.Weights = defaultWeights()
	}
	return &cfg, nil
}
