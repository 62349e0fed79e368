package integrations

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// ExportConfig locates the S3-compatible bucket exports are written to.
type ExportConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// ExportObject describes an uploaded export.
type ExportObject struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	ETag   string `json:"etag,omitempty"`
}

// ExportClient uploads generated files with minio-go.
type ExportClient struct {
	api    *minio.Client
	bucket string
}

// NewExportClient returns an unconfigured client when endpoint or bucket is empty.
func NewExportClient(cfg ExportConfig) (*ExportClient, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return &ExportClient{}, nil
	}
	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("export storage client: %w", err)
	}
	return &ExportClient{api: api, bucket: cfg.Bucket}, nil
}

// Configured reports whether uploads can be attempted.
func (c *ExportClient) Configured() bool {
	return c != nil && c.api != nil
}

// Upload stores body under key.
func (c *ExportClient) Upload(ctx context.Context, key string, body []byte, contentType string) (*ExportObject, error) {
	if !c.Configured() {
		return nil, &NotConfiguredError{Service: "export storage"}
	}
	info, err := c.api.PutObject(ctx, c.bucket, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("upload export: %w", err)
	}
	log.Info().Str("bucket", c.bucket).Str("key", key).Int64("size", info.Size).Msg("Export uploaded")
	return &ExportObject{Bucket: c.bucket, Key: info.Key, Size: info.Size, ETag: info.ETag}, nil
}
