// Package config loads and validates WatchState's runtime configuration:
// configured backends, storage location, and the Mapper/Export tuning
// knobs from spec.md §6.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/kasuboski/watchstate/internal/backend"
)

type Config struct {
	Storage  Storage            `json:"storage" yaml:"storage" mapstructure:"storage"`
	Backends map[string]Backend `json:"backends" yaml:"backends" mapstructure:"backends"`
	Mapper   Mapper             `json:"mapper" yaml:"mapper" mapstructure:"mapper"`
	Export   Export             `json:"export" yaml:"export" mapstructure:"export"`
	Server   Server             `json:"server" yaml:"server" mapstructure:"server"`
	Jobs     Jobs               `json:"jobs" yaml:"jobs" mapstructure:"jobs"`
}

// Storage configuration assumes a single sqlite database file, per the
// Storage Adapter's fixed single-table schema.
type Storage struct {
	FilePath string `json:"filePath" yaml:"filePath" mapstructure:"filePath" validate:"required"`
}

type Backend struct {
	Kind    backend.Kind `json:"kind" yaml:"kind" mapstructure:"kind" validate:"required,oneof=plex jellyfin emby"`
	Scheme  string       `json:"scheme" yaml:"scheme" mapstructure:"scheme" validate:"required,oneof=http https"`
	Host    string       `json:"host" yaml:"host" mapstructure:"host" validate:"required"`
	Token   string       `json:"token" yaml:"token" mapstructure:"token"`
	Enabled bool         `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	// Import disabled entirely skips this backend during sync jobs, export
	// disabled skips it during export jobs, allowing one-way configurations.
	ImportEnabled bool `json:"importEnabled" yaml:"importEnabled" mapstructure:"importEnabled"`
	ExportEnabled bool `json:"exportEnabled" yaml:"exportEnabled" mapstructure:"exportEnabled"`
}

// Mapper houses the Reconciliation Engine's recognized option keys (§6).
type Mapper struct {
	ImportMetadataOnly   bool `json:"importMetadataOnly" yaml:"importMetadataOnly" mapstructure:"importMetadataOnly"`
	IgnoreDate           bool `json:"ignoreDate" yaml:"ignoreDate" mapstructure:"ignoreDate"`
	DryRun               bool `json:"dryRun" yaml:"dryRun" mapstructure:"dryRun"`
	DebugTrace           bool `json:"debugTrace" yaml:"debugTrace" mapstructure:"debugTrace"`
	AlwaysUpdateMetadata bool `json:"alwaysUpdateMetadata" yaml:"alwaysUpdateMetadata" mapstructure:"alwaysUpdateMetadata"`
	DisableAutocommit    bool `json:"disableAutocommit" yaml:"disableAutocommit" mapstructure:"disableAutocommit"`
}

type Export struct {
	AllowedTimeDiff time.Duration `json:"allowedTimeDiff" yaml:"allowedTimeDiff" mapstructure:"allowedTimeDiff" validate:"gt=0"`
	IgnoreDate      bool          `json:"ignoreDate" yaml:"ignoreDate" mapstructure:"ignoreDate"`
	DryRun          bool          `json:"dryRun" yaml:"dryRun" mapstructure:"dryRun"`
}

type Server struct {
	Port int `json:"port" yaml:"port" mapstructure:"port" validate:"gt=0,lt=65536"`
}

type Jobs struct {
	Sync         time.Duration `json:"sync" yaml:"sync" mapstructure:"sync"`
	Export       time.Duration `json:"export" yaml:"export" mapstructure:"export"`
	ScheduleTick time.Duration `json:"scheduleTick" yaml:"scheduleTick" mapstructure:"scheduleTick"`
}

// ConfigUnmarshaler is the subset of *viper.Viper this package depends on,
// kept as an interface so config loading is mockable in tests.
type ConfigUnmarshaler interface {
	ReadInConfig() error
	Unmarshal(any, ...viper.DecoderConfigOption) error
	ConfigFileUsed() string
}

var validate = validator.New()

// New decodes and validates a Config from cu.
func New(cu ConfigUnmarshaler) (Config, error) {
	var c Config

	if cu.ConfigFileUsed() != "" {
		if err := cu.ReadInConfig(); err != nil {
			return c, err
		}
	}

	if err := cu.Unmarshal(&c); err != nil {
		return c, err
	}

	if err := validate.Struct(c); err != nil {
		return c, fmt.Errorf("invalid configuration: %w", err)
	}

	for name, b := range c.Backends {
		if err := validate.Struct(b); err != nil {
			return c, fmt.Errorf("invalid configuration for backend %q: %w", name, err)
		}
	}

	return c, nil
}
