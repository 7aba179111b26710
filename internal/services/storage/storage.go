// Package storage uploads pipeline artifacts to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"icast/internal/config"
	"icast/internal/logging"
	"icast/internal/services"
)

const uploadAttempts = 3

// Client stores and fetches objects in a single bucket.
type Client struct {
	api      s3iface.S3API
	endpoint string
	bucket   string
	prefix   string
	timeout  time.Duration
	logger   *slog.Logger
}

// New builds a storage client from configuration. The endpoint is any
// S3-compatible service; credentials are static.
func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.Storage.Endpoint),
		Region:           aws.String(cfg.Storage.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.Storage.AccessKeyID, cfg.Storage.SecretAccessKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "storage", "new session",
			"Failed to initialize object storage session", err)
	}
	return &Client{
		api:      s3.New(sess),
		endpoint: strings.TrimRight(cfg.Storage.Endpoint, "/"),
		bucket:   cfg.Storage.Bucket,
		prefix:   strings.Trim(cfg.Storage.UploadPrefix, "/"),
		timeout:  time.Duration(cfg.Storage.TimeoutSeconds) * time.Second,
		logger:   logging.NewComponentLogger(logger, "storage"),
	}, nil
}

// NewWithAPI builds clients over a caller-supplied S3 API, for tests.
func NewWithAPI(api s3iface.S3API, endpoint, bucket, prefix string, logger *slog.Logger) *Client {
	return &Client{
		api:      api,
		endpoint: strings.TrimRight(endpoint, "/"),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		timeout:  30 * time.Second,
		logger:   logging.NewComponentLogger(logger, "storage"),
	}
}

// ObjectKey builds the bucket key for a task artifact.
func (c *Client) ObjectKey(name string) string {
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

// PublicURL returns the address external services fetch the object from.
func (c *Client) PublicURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", c.endpoint, c.bucket, key)
}

// UploadFile streams a local file into the bucket and returns its public URL.
// Transient failures are retried before the error surfaces to the caller.
func (c *Client) UploadFile(ctx context.Context, localPath, key string) (string, error) {
	payload, err := os.ReadFile(localPath)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "storage", "read file",
			fmt.Sprintf("Failed to read %s for upload", localPath), err)
	}
	return c.Upload(ctx, key, payload)
}

// Upload writes raw bytes to the bucket at key and returns the public URL.
func (c *Client) Upload(ctx context.Context, key string, payload []byte) (string, error) {
	uploadCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := retry.Do(
		func() error {
			_, err := c.api.PutObjectWithContext(uploadCtx, &s3.PutObjectInput{
				Bucket: aws.String(c.bucket),
				Key:    aws.String(key),
				Body:   bytes.NewReader(payload),
			})
			return err
		},
		retry.Context(uploadCtx),
		retry.Attempts(uploadAttempts),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			c.logger.Warn("object upload retry",
				logging.String("key", key),
				logging.Int("attempt", int(attempt)+1),
				logging.Error(err))
		}),
	)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "storage", "put object",
			fmt.Sprintf("Failed to upload %s to bucket %s", key, c.bucket), err)
	}
	c.logger.Info("object uploaded",
		logging.String("key", key),
		logging.Int("bytes", len(payload)))
	return c.PublicURL(key), nil
}

// Download fetches an object's contents.
func (c *Client) Download(ctx context.Context, key string) ([]byte, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.api.GetObjectWithContext(fetchCtx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "storage", "get object",
			fmt.Sprintf("Failed to fetch %s from bucket %s", key, c.bucket), err)
	}
	defer out.Body.Close()
	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalService, "storage", "read object",
			fmt.Sprintf("Failed to read %s from bucket %s", key, c.bucket), err)
	}
	return payload, nil
}

// HealthCheck verifies the bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, err := c.api.HeadBucketWithContext(checkCtx, &s3.HeadBucketInput{
		Bucket: aws.String(c.bucket),
	})
	if err != nil {
		return services.Wrap(services.ErrExternalService, "storage", "head bucket",
			fmt.Sprintf("Bucket %s is not reachable", c.bucket), err)
	}
	return nil
}
