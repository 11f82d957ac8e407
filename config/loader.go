package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "QB_"

// FileName is the config file looked up in the working directory when no
// path is given.
const FileName = "qb.yaml"

// Defaults are the values every configuration starts from.
var Defaults = map[string]any{
	"dialect":                "sqlite",
	"event_prefix":           "qb",
	"log.level":              "info",
	"log.format":             "text",
	"stats.enabled":          false,
	"stats.slow_threshold":   "100ms",
	"simulation.enabled":     false,
	"simulation.watch":       false,
	"cache.enabled":          false,
	"pool.max_open_conns":    0,
	"pool.max_idle_conns":    0,
	"pool.conn_max_lifetime": "0s",
	"pool.ping":              false,
}

// Load reads the configuration from path. An empty path uses qb.yaml from
// the working directory when it exists.
// Precedence (highest to lowest): env vars > config file > defaults
func Load(path string) (*File, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is like Load, with explicitly set flags taking precedence
// over every other source. Flag names map to keys by replacing "-" with
// "_", so --event-prefix sets event_prefix and --log.level sets log.level.
func LoadWithFlags(path string, flags *pflag.FlagSet) (*File, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(Defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	// 2. Config file
	if path == "" {
		if _, err := os.Stat(FileName); err == nil {
			path = FileName
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	// 3. Environment variables
	// Transform: QB_LOG__LEVEL -> log.level, QB_EVENT_PREFIX -> event_prefix
	if err := k.Load(env.Provider(EnvPrefix, ".", EnvKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env vars: %w", err)
	}

	// 4. Flags
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("config: load flags: %w", err)
		}
	}

	var cfg File
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// EnvKey maps an environment variable name onto a configuration key.
func EnvKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}
