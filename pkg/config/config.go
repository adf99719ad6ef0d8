// Package config loads the merge engine configuration with viper.
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/antisplit/pkg/errors"
	"github.com/antisplit/pkg/model"
)

// EnvPrefix prefixes environment overrides, e.g. ANTISPLIT_MERGE_SIGN.
const EnvPrefix = "ANTISPLIT"

// Config holds all configuration for the application.
type Config struct {
	Merge     MergeConfig      `mapstructure:"merge"`
	Device    model.DeviceSpec `mapstructure:"device"`
	Signing   SigningConfig    `mapstructure:"signing"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Storage   StorageConfig    `mapstructure:"storage"`
	Log       LogConfig        `mapstructure:"log"`
	Telemetry TelemetryConfig  `mapstructure:"telemetry"`
}

// MergeConfig holds merge behaviour.
type MergeConfig struct {
	WorkDir   string   `mapstructure:"work_dir"`
	Sign      bool     `mapstructure:"sign"`
	Workers   int      `mapstructure:"workers"`
	SelectAll bool     `mapstructure:"select_all"`
	Splits    []string `mapstructure:"splits"`
	History   bool     `mapstructure:"history"`
}

// SigningConfig locates the signing key. With neither a keystore nor a
// certificate and key, an ephemeral key of Algorithm is generated.
type SigningConfig struct {
	Keystore  string `mapstructure:"keystore"`
	Password  string `mapstructure:"password"`
	Alias     string `mapstructure:"alias"`
	Cert      string `mapstructure:"cert"`
	Key       string `mapstructure:"key"`
	Algorithm string `mapstructure:"algorithm"` // rsa or ecdsa
}

// DatabaseConfig holds the merge history database connection.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite, mysql or postgres
	Path     string `mapstructure:"path"` // sqlite file
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig holds the upload target of merged APKs.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
	Retries   int    `mapstructure:"retries"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text, logrus or json
}

// TelemetryConfig overrides the OTEL_* environment when set.
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Protocol string `mapstructure:"protocol"`
	Insecure bool   `mapstructure:"insecure"`
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from configPath, or from config.yaml in the
// standard locations when configPath is empty. A missing file yields the
// defaults.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".antisplit"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, apperrors.Wrapf(apperrors.CodeConfigError, err, "read config file")
		}
	}
	return decode(v)
}

// LoadFromReader loads configuration from content (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeConfigError, err, "read config")
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrapf(apperrors.CodeConfigError, err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("merge.work_dir", filepath.Join(os.TempDir(), "antisplit"))
	v.SetDefault("merge.sign", true)
	v.SetDefault("merge.workers", runtime.NumCPU())
	v.SetDefault("merge.select_all", false)
	v.SetDefault("merge.history", true)

	v.SetDefault("device.abis", []string{})
	v.SetDefault("device.density", 0)
	v.SetDefault("device.locales", []string{})

	v.SetDefault("signing.algorithm", "rsa")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", defaultDBPath())
	v.SetDefault("database.max_conns", 4)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")
	v.SetDefault("storage.retries", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.protocol", "grpc")
}

func defaultDBPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".antisplit", "history.db")
	}
	return "antisplit-history.db"
}

func configError(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.CodeConfigError, format, args...)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
		if c.Database.Path == "" {
			return configError("database path is required for sqlite")
		}
	case "mysql", "postgres":
		if c.Database.Host == "" {
			return configError("database host is required")
		}
	default:
		return configError("unsupported database type: %s", c.Database.Type)
	}

	if c.Merge.Workers < 1 {
		return configError("merge workers must be at least 1")
	}
	if c.Device.Density < 0 {
		return configError("device density must not be negative")
	}
	if (c.Signing.Cert == "") != (c.Signing.Key == "") {
		return configError("signing cert and key must be given together")
	}
	switch strings.ToLower(c.Signing.Algorithm) {
	case "", "rsa", "ecdsa":
	default:
		return configError("unsupported signing algorithm: %s", c.Signing.Algorithm)
	}
	return nil
}

// EnsureWorkDir creates the work directory if it doesn't exist.
func (c *Config) EnsureWorkDir() error {
	if c.Merge.WorkDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Merge.WorkDir, 0o755); err != nil {
		return apperrors.IO(err, "create work dir %s", c.Merge.WorkDir)
	}
	return nil
}

// RunDir returns the per-run directory below the work directory.
func (c *Config) RunDir(taskUUID string) string {
	return filepath.Join(c.Merge.WorkDir, taskUUID)
}
