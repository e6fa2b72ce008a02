package config

import (
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/code-payments/iap-validator/iap/apple"
	"github.com/code-payments/iap-validator/iap/google"
)

const (
	EnvPrefix = "IAP_"

	// ConfigPathEnvVar overrides the config file path.
	ConfigPathEnvVar = "IAP_CONFIG_PATH"
)

var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
}

type Config struct {
	Apple   AppleConfig   `koanf:"apple"`
	Google  GoogleConfig  `koanf:"google"`
	Logging LoggingConfig `koanf:"logging"`
}

type AppleConfig struct {
	SharedSecret           string        `koanf:"shared_secret"`
	SandboxFirst           bool          `koanf:"sandbox_first"`
	ExcludeExpiredReceipts bool          `koanf:"exclude_expired_receipts"`
	ProductionURL          string        `koanf:"production_url"`
	SandboxURL             string        `koanf:"sandbox_url"`
	Timeout                time.Duration `koanf:"timeout"`
}

type GoogleConfig struct {
	ServiceAccountClientID string        `koanf:"service_account_client_id"`
	PrivateKeyPEM          string        `koanf:"private_key_pem"`
	TokenURL               string        `koanf:"token_url"`
	APIBaseURL             string        `koanf:"api_base_url"`
	Timeout                time.Duration `koanf:"timeout"`
}

type LoggingConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

func Default() *Config {
	return &Config{
		Apple: AppleConfig{
			ProductionURL: apple.ProductionURL,
			SandboxURL:    apple.SandboxURL,
			Timeout:       30 * time.Second,
		},
		Google: GoogleConfig{
			TokenURL:   google.TokenURL,
			APIBaseURL: google.APIBaseURL,
			Timeout:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load layers defaults, an optional YAML file and IAP_ environment variables,
// in increasing priority. A .env file in the working directory is loaded into
// the environment first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file. An empty path skips the file
// layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.Wrapf(err, "failed to load config file %s", path)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load environment variables")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		return envPath
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sections = map[string]struct{}{
	"apple":   {},
	"google":  {},
	"logging": {},
}

// envTransformFunc maps IAP_APPLE_SHARED_SECRET to apple.shared_secret.
// Variables outside a known section are ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))

	section, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" {
		return ""
	}
	if _, known := sections[section]; !known {
		return ""
	}
	return section + "." + rest
}

func (c *Config) Validate() error {
	for name, value := range map[string]string{
		"apple.production_url": c.Apple.ProductionURL,
		"apple.sandbox_url":    c.Apple.SandboxURL,
		"google.token_url":     c.Google.TokenURL,
		"google.api_base_url":  c.Google.APIBaseURL,
	} {
		parsed, err := url.Parse(value)
		if err != nil {
			return errors.Wrapf(err, "%s is not a url", name)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return errors.Errorf("%s must be an http(s) url, got %q", name, value)
		}
	}

	if c.Apple.Timeout <= 0 {
		return errors.New("apple.timeout must be positive")
	}
	if c.Google.Timeout <= 0 {
		return errors.New("google.timeout must be positive")
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "invalid logging.level")
	}
	return nil
}

// GoogleEnabled reports whether service account credentials are configured.
func (c *Config) GoogleEnabled() bool {
	return c.Google.ServiceAccountClientID != "" && c.Google.PrivateKeyPEM != ""
}

func (c LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid logging level")
	}

	zapConfig := zap.NewProductionConfig()
	if c.Development {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}
