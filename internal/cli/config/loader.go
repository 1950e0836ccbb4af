package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/leapstack-labs/laketower/internal/storage"
)

// loggerKey is used to store the logger in context.
type loggerKey struct{}

// configKey is used to store the loaded config in context.
type configKey struct{}

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// flagKeys maps persistent flags to config keys. Other flags stay local to
// their command.
var flagKeys = map[string]string{
	"log-level": "log_level",
	"output":    "output",
}

// envVarPattern matches ${VAR} references.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// findConfigFile finds the config file to use.
// Priority: explicit path > $LAKETOWER_CONFIG_PATH > laketower.yml > laketower.yaml
// An explicit path is returned even if it does not exist.
func findConfigFile(explicit string) (string, bool) {
	if explicit != "" {
		return explicit, true
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p, true
	}
	for _, name := range []string{DefaultConfigFile, "laketower.yaml"} {
		if _, err := os.Stat(name); err == nil {
			return name, false
		}
	}
	return "", false
}

// resolvePathRelativeTo resolves a local path relative to baseDir if it's not
// absolute. Remote URIs are returned unchanged.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) || storage.IsRemote(path) || strings.Contains(path, "://") {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// LoadConfig loads configuration from file, environment variables, and flags.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	// 1. Load defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"log_level": DefaultLogLevel,
		"output":    DefaultOutput,
		"web.host":  DefaultWebHost,
		"web.port":  DefaultWebPort,
		"web.watch": false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	path, explicit := findConfigFile(cfgFile)
	configFileUsed = ""
	if path != "" {
		if _, err := os.Stat(path); err != nil && explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
		configFileUsed = path
	}

	// 3. Load environment variables (LAKETOWER_ prefix)
	// Transform: LAKETOWER_LOG_LEVEL -> log_level, LAKETOWER_WEB_PORT -> web.port
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	cfg, err := decode(k)
	if err != nil {
		return nil, err
	}

	// 6. Expand ${VAR} references and resolve local table paths against the
	// config file directory
	baseDir := "."
	if configFileUsed != "" {
		baseDir = filepath.Dir(configFileUsed)
	}
	for i := range cfg.Tables {
		t := &cfg.Tables[i]
		t.URI = resolvePathRelativeTo(expandEnvVars(t.URI), baseDir)
		expandConnectionEnvVars(t.Connection)
	}

	currentConfig = cfg
	return cfg, nil
}

func decode(kk *koanf.Koanf) (*Config, error) {
	var cfg Config
	err := kk.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if rest, ok := strings.CutPrefix(key, "web_"); ok {
		return "web." + rest
	}
	return key
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the currently loaded configuration.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key used for storing the logger.
func LoggerKey() interface{} {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// WithConfig returns a context carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config stored by WithConfig, falling back to the
// last loaded config and then to an empty config with defaults.
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey{}).(*Config); ok && cfg != nil {
		return cfg
	}
	if currentConfig != nil {
		return currentConfig
	}
	return &Config{
		LogLevel:     DefaultLogLevel,
		OutputFormat: DefaultOutput,
		Web:          WebConfig{Host: DefaultWebHost, Port: DefaultWebPort},
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match // Return original if not found
	})
}

// expandConnectionEnvVars expands environment variables in connection fields.
func expandConnectionEnvVars(c *ConnectionConfig) {
	if c == nil || c.S3 == nil {
		return
	}
	c.S3.AccessKeyID = expandEnvVars(c.S3.AccessKeyID)
	c.S3.SecretAccessKey = expandEnvVars(c.S3.SecretAccessKey)
	c.S3.Region = expandEnvVars(c.S3.Region)
	c.S3.EndpointURL = expandEnvVars(c.S3.EndpointURL)
}
