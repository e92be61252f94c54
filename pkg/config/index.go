package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultIndexConcurrency bounds concurrent reads while rescanning a
	// results directory.
	DefaultIndexConcurrency = 4

	// DefaultDatabaseDriver is the default run index database driver.
	DefaultDatabaseDriver = "sqlite"

	// DefaultSQLitePath is the default run index database file.
	DefaultSQLitePath = "./results/index.db"
)

// IndexConfig configures the run index database.
type IndexConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	Concurrency int  `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
	// Interval between rescans while the API server runs. Empty scans once.
	Interval string         `yaml:"interval,omitempty" mapstructure:"interval"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

func (i *IndexConfig) applyDefaults() {
	if i.Concurrency <= 0 {
		i.Concurrency = DefaultIndexConcurrency
	}

	if i.Database.Driver == "" {
		i.Database.Driver = DefaultDatabaseDriver
	}

	if i.Database.Driver == "sqlite" && i.Database.SQLite.Path == "" {
		i.Database.SQLite.Path = DefaultSQLitePath
	}

	if i.Database.Postgres.SSLMode == "" {
		i.Database.Postgres.SSLMode = "disable"
	}
}

// Validate checks the index configuration.
func (i *IndexConfig) Validate() error {
	if i.Interval != "" {
		if _, err := time.ParseDuration(i.Interval); err != nil {
			return fmt.Errorf("parsing interval: %w", err)
		}
	}

	return i.Database.Validate()
}

// IntervalDuration returns the parsed rescan interval, zero when unset.
func (i *IndexConfig) IntervalDuration() time.Duration {
	d, err := time.ParseDuration(i.Interval)
	if err != nil || d < 0 {
		return 0
	}

	return d
}

// Validate checks the database configuration.
func (d *DatabaseConfig) Validate() error {
	switch d.Driver {
	case "sqlite":
		if d.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required")
		}
	case "postgres":
		if d.Postgres.Host == "" {
			return errors.New("database.postgres.host is required")
		}

		if d.Postgres.Database == "" {
			return errors.New("database.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", d.Driver)
	}

	return nil
}
