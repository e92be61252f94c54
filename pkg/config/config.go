package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/reportoor/pkg/fsutil"
)

const (
	// EnvPrefix prefixes every environment variable override, e.g.
	// REPORTOOR_RESULTS_DIR overrides results.dir.
	EnvPrefix = "REPORTOOR"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultResultsDir is the default directory receiving summaries and
	// run-scoped artifact directories.
	DefaultResultsDir = "./results"

	// DefaultOutputDir is the default ephemeral directory the test runner
	// writes its artifacts to.
	DefaultOutputDir = "./test-results"
)

// Config is the root configuration for reportoor.
type Config struct {
	Global  GlobalConfig  `yaml:"global" mapstructure:"global"`
	Project ProjectConfig `yaml:"project" mapstructure:"project"`
	Results ResultsConfig `yaml:"results" mapstructure:"results"`
	Upload  UploadConfig  `yaml:"upload,omitempty" mapstructure:"upload"`
	Webhook WebhookConfig `yaml:"webhook,omitempty" mapstructure:"webhook"`
	Index   IndexConfig   `yaml:"index,omitempty" mapstructure:"index"`
	API     APIConfig     `yaml:"api,omitempty" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// ProjectConfig identifies the project and the CI context of a run.
type ProjectConfig struct {
	// Name defaults to the base name of the working directory.
	Name              string `yaml:"name" mapstructure:"name"`
	BranchName        string `yaml:"branch_name,omitempty" mapstructure:"branch_name"`
	PullRequestNumber string `yaml:"pull_request_number,omitempty" mapstructure:"pull_request_number"`
}

// ResultsConfig controls where results and artifacts end up.
type ResultsConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	// BaseURL prefixes the runUrl links written into run summaries.
	BaseURL string `yaml:"base_url,omitempty" mapstructure:"base_url"`
	// Owner is an optional "UID:GID" applied to written files.
	Owner         string `yaml:"owner,omitempty" mapstructure:"owner"`
	CollectVideos bool   `yaml:"collect_videos" mapstructure:"collect_videos"`
}

// defaults lists every leaf key with its default. Registering each key
// makes viper consult the environment for it during Unmarshal.
var defaults = map[string]any{
	"global.log_level": DefaultLogLevel,

	"project.name":                "",
	"project.branch_name":         "",
	"project.pull_request_number": "",

	"results.dir":            DefaultResultsDir,
	"results.output_dir":     DefaultOutputDir,
	"results.base_url":       "",
	"results.owner":          "",
	"results.collect_videos": false,

	"upload.s3.enabled":           false,
	"upload.s3.endpoint_url":      "",
	"upload.s3.region":            "",
	"upload.s3.bucket":            "",
	"upload.s3.prefix":            "",
	"upload.s3.access_key_id":     "",
	"upload.s3.secret_access_key": "",
	"upload.s3.force_path_style":  false,
	"upload.s3.storage_class":     "",
	"upload.s3.acl":               "",
	"upload.s3.parallelism":       DefaultUploadParallelism,

	"upload.minio.enabled":     false,
	"upload.minio.endpoint":    "",
	"upload.minio.access_key":  "",
	"upload.minio.secret_key":  "",
	"upload.minio.bucket":      "",
	"upload.minio.region":      "",
	"upload.minio.prefix":      "",
	"upload.minio.secure":      true,
	"upload.minio.parallelism": DefaultUploadParallelism,

	"webhook.url":        "",
	"webhook.method":     DefaultWebhookMethod,
	"webhook.auth_type":  "",
	"webhook.auth_token": "",
	"webhook.timeout":    DefaultWebhookTimeout,

	"webhook.retry.max_retries":   DefaultWebhookMaxRetries,
	"webhook.retry.initial_delay": DefaultWebhookInitialDelay,
	"webhook.retry.max_delay":     DefaultWebhookMaxDelay,
	"webhook.retry.multiplier":    DefaultWebhookMultiplier,

	"index.enabled":     false,
	"index.concurrency": DefaultIndexConcurrency,
	"index.interval":    "",

	"index.database.driver":            DefaultDatabaseDriver,
	"index.database.sqlite.path":       DefaultSQLitePath,
	"index.database.postgres.host":     "",
	"index.database.postgres.port":     5432,
	"index.database.postgres.user":     "",
	"index.database.postgres.password": "",
	"index.database.postgres.database": "",
	"index.database.postgres.ssl_mode": "",

	"api.listen":                         DefaultAPIListen,
	"api.cors_origins":                   []string{},
	"api.rate_limit.enabled":             false,
	"api.rate_limit.requests_per_minute": DefaultRequestsPerMinute,
}

// Load reads and merges the given configuration files in order, applies
// environment overrides and fills defaults. With no paths only defaults
// and the environment are used.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // config path from the command line
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for options left empty after decoding.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Results.Dir == "" {
		c.Results.Dir = DefaultResultsDir
	}

	if c.Results.OutputDir == "" {
		c.Results.OutputDir = DefaultOutputDir
	}

	c.Upload.applyDefaults()
	c.Webhook.applyDefaults()
	c.Index.applyDefaults()
	c.API.applyDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("global.log_level: %w", err))
	}

	if filepath.Clean(c.Results.Dir) == filepath.Clean(c.Results.OutputDir) {
		errs = append(errs, fmt.Errorf(
			"results.dir and results.output_dir must differ (both %q)", c.Results.Dir,
		))
	}

	if c.Results.Owner != "" {
		if _, err := fsutil.ParseOwner(c.Results.Owner); err != nil {
			errs = append(errs, fmt.Errorf("results.owner: %w", err))
		}
	}

	if err := c.Upload.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("upload: %w", err))
	}

	if err := c.Webhook.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("webhook: %w", err))
	}

	if err := c.Index.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("index: %w", err))
	}

	if err := c.API.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("api: %w", err))
	}

	return errors.Join(errs...)
}

// ResultsOwner parses results.owner. It returns nil when no owner is set.
func (c *Config) ResultsOwner() (*fsutil.OwnerConfig, error) {
	if c.Results.Owner == "" {
		return nil, nil
	}

	return fsutil.ParseOwner(c.Results.Owner)
}

// Dump renders the effective configuration as YAML with secrets redacted.
func (c *Config) Dump() ([]byte, error) {
	redacted := *c
	redacted.Upload.S3.SecretAccessKey = redact(redacted.Upload.S3.SecretAccessKey)
	redacted.Upload.Minio.SecretKey = redact(redacted.Upload.Minio.SecretKey)
	redacted.Webhook.AuthToken = redact(redacted.Webhook.AuthToken)
	redacted.Index.Database.Postgres.Password = redact(redacted.Index.Database.Postgres.Password)

	out, err := yaml.Marshal(&redacted)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	return out, nil
}

func redact(s string) string {
	if s == "" {
		return ""
	}

	return "REDACTED"
}
