package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reportoor/pkg/config"
)

// minioUploader implements Uploader for MinIO deployments.
type minioUploader struct {
	log    logrus.FieldLogger
	cfg    *config.MinioUploadConfig
	client *minio.Client
}

// Ensure interface compliance.
var _ Uploader = (*minioUploader)(nil)

// NewMinioUploader creates a new MinIO uploader from the given configuration.
func NewMinioUploader(
	log logrus.FieldLogger,
	cfg *config.MinioUploadConfig,
) (Uploader, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}

	return &minioUploader{
		log:    log.WithField("component", "minio-uploader"),
		cfg:    cfg,
		client: client,
	}, nil
}

// Preflight checks that the bucket exists and accepts writes.
func (u *minioUploader) Preflight(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", u.cfg.Bucket, err)
	}

	if !exists {
		return fmt.Errorf("bucket %s does not exist", u.cfg.Bucket)
	}

	content := fmt.Sprintf("reportoor write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err = u.client.PutObject(ctx, u.cfg.Bucket,
		joinPrefix(u.cfg.Prefix, ".reportoor-write-test"),
		strings.NewReader(content), int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/plain"},
	)
	if err != nil {
		return fmt.Errorf("writing test object to %s: %w", u.cfg.Bucket, err)
	}

	return nil
}

// Upload walks localDir and uploads all files under the configured prefix.
func (u *minioUploader) Upload(ctx context.Context, localDir string) error {
	prefix := joinPrefix(u.cfg.Prefix, filepath.Base(localDir))

	entries, err := treeEntries(localDir, prefix)
	if err != nil {
		return err
	}

	if err := putAll(ctx, u.uploadFile, entries, u.cfg.Parallelism); err != nil {
		return err
	}

	u.log.WithFields(logrus.Fields{
		"files":  len(entries),
		"bucket": u.cfg.Bucket,
		"prefix": prefix,
	}).Info("Upload completed")

	return nil
}

// UploadFiles uploads summary documents directly under the prefix.
func (u *minioUploader) UploadFiles(ctx context.Context, paths ...string) error {
	prefix := joinPrefix(u.cfg.Prefix, "")

	entries, err := fileEntries(prefix, paths)
	if err != nil {
		return err
	}

	if err := putAll(ctx, u.uploadFile, entries, u.cfg.Parallelism); err != nil {
		return err
	}

	u.log.WithFields(logrus.Fields{
		"files":  len(entries),
		"bucket": u.cfg.Bucket,
		"prefix": prefix,
	}).Info("Documents uploaded")

	return nil
}

func (u *minioUploader) uploadFile(ctx context.Context, localPath, key string) error {
	u.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": u.cfg.Bucket,
	}).Debug("Uploading file")

	_, err := u.client.FPutObject(ctx, u.cfg.Bucket, key, localPath, minio.PutObjectOptions{
		ContentType: detectContentType(localPath),
	})
	if err != nil {
		return fmt.Errorf("FPutObject: %w", err)
	}

	return nil
}
