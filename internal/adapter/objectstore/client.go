// Package objectstore writes objects to S3-compatible storage.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultRegion is used when none is configured. Setting a region skips the
// bucket location lookup before each request.
const DefaultRegion = "us-east-1"

// Config selects the endpoint and credentials.
type Config struct {
	Endpoint  string // host[:port], no scheme
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Client implements manifest.ObjectWriter.
type Client struct {
	client *minio.Client
	logger *slog.Logger
}

// New creates a client for cfg. No request is made until the first write.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &Client{client: mc, logger: logger}, nil
}

// Put writes data to bucket/key, replacing any existing object.
func (c *Client) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	info, err := c.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	c.logger.Debug("object written", "bucket", bucket, "key", key, "size", info.Size)
	return nil
}
