package config

import (
	"errors"
	"fmt"
)

// DefaultUploadParallelism bounds concurrent object uploads.
const DefaultUploadParallelism = 8

// UploadConfig selects the remote storage results are published to. At most
// one backend may be enabled.
type UploadConfig struct {
	S3    S3UploadConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
	Minio MinioUploadConfig `yaml:"minio,omitempty" mapstructure:"minio"`
}

// S3UploadConfig configures uploads through the AWS SDK.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
	Parallelism     int    `yaml:"parallelism,omitempty" mapstructure:"parallelism"`
}

// MinioUploadConfig configures uploads through the MinIO client.
type MinioUploadConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey   string `yaml:"access_key,omitempty" mapstructure:"access_key"`
	SecretKey   string `yaml:"secret_key,omitempty" mapstructure:"secret_key"`
	Bucket      string `yaml:"bucket" mapstructure:"bucket"`
	Region      string `yaml:"region,omitempty" mapstructure:"region"`
	Prefix      string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	Secure      bool   `yaml:"secure" mapstructure:"secure"`
	Parallelism int    `yaml:"parallelism,omitempty" mapstructure:"parallelism"`
}

func (u *UploadConfig) applyDefaults() {
	if u.S3.Parallelism <= 0 {
		u.S3.Parallelism = DefaultUploadParallelism
	}

	if u.Minio.Parallelism <= 0 {
		u.Minio.Parallelism = DefaultUploadParallelism
	}
}

// Enabled reports whether any upload backend is enabled.
func (u *UploadConfig) Enabled() bool {
	return u.S3.Enabled || u.Minio.Enabled
}

// Validate checks the upload configuration.
func (u *UploadConfig) Validate() error {
	if u.S3.Enabled && u.Minio.Enabled {
		return errors.New("only one of s3 or minio may be enabled")
	}

	if u.S3.Enabled && u.S3.Bucket == "" {
		return errors.New("s3.bucket is required")
	}

	if u.Minio.Enabled {
		switch {
		case u.Minio.Endpoint == "":
			return errors.New("minio.endpoint is required")
		case u.Minio.Bucket == "":
			return errors.New("minio.bucket is required")
		case u.Minio.AccessKey == "" || u.Minio.SecretKey == "":
			return fmt.Errorf("minio credentials are required for %s", u.Minio.Endpoint)
		}
	}

	return nil
}
