// Package backup implements ArchiveBackup (§4.12): a periodic SQLite
// snapshot of the observation store, verified and checksummed, uploaded to
// an S3-compatible bucket. Grounded on the teacher's
// internal/reliability/r2_backup_service.go for the snapshot/checksum/upload
// shape, and on the client construction idiom used for the same
// aws-sdk-go-v2/service/s3 dependency elsewhere in the retrieval pack.
package backup

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds the connection details for the S3-compatible backup
// bucket (standard AWS S3, or a compatible provider reached via Endpoint).
type ClientConfig struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool
}

// Client wraps the AWS SDK v2 S3 client with the bucket name it always
// operates against.
type Client struct {
	s3     *s3.Client
	bucket string
}

// NewClient builds a Client from static credentials, optionally overriding
// the endpoint for S3-compatible providers (R2, MinIO, iDrive e2).
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("backup: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint)
		opts = append(opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(endpoint) })
	}
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return &Client{
		s3:     s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Upload streams an object to the configured bucket via the multipart
// manager, which transparently falls back to a single PutObject for small
// files.
func (c *Client) Upload(ctx context.Context, key string, body io.Reader) error {
	uploader := manager.NewUploader(c.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("backup: upload %s: %w", key, err)
	}
	return nil
}

// List returns the keys of every object under the given prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	out, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("backup: list %s: %w", prefix, err)
	}
	objects := make([]Object, 0, len(out.Contents))
	for _, o := range out.Contents {
		if o.Key == nil {
			continue
		}
		var size int64
		if o.Size != nil {
			size = *o.Size
		}
		objects = append(objects, Object{Key: *o.Key, SizeBytes: size})
	}
	return objects, nil
}

// Delete removes one object from the bucket.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("backup: delete %s: %w", key, err)
	}
	return nil
}

// Object is one bucket entry as returned by List.
type Object struct {
	Key       string
	SizeBytes int64
}

func normaliseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Scheme != "" {
		return endpoint
	}
	return "https://" + endpoint
}
