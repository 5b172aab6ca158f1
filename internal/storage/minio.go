package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const s3Scheme = "s3://"

// newMinIOClient creates a minio-go client for an S3-compatible endpoint
func newMinIOClient(cfg S3Config) (*minio.Client, error) {
	// Clean and validate endpoint
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
}

// cleanEndpoint removes protocol and path from endpoint URL to get host:port format
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	// If endpoint doesn't have protocol, add http:// for parsing
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		// Check if it's already in host:port format
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsedURL, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have paths, only host:port is allowed (got path: %s)", parsedURL.Path)
	}

	return parsedURL.Host, nil
}

// MinIOSource downloads assets from an S3-compatible bucket
type MinIOSource struct {
	client        *minio.Client
	defaultBucket string
}

// NewMinIOSource creates a source backed by minio-go
func NewMinIOSource(cfg S3Config) (*MinIOSource, error) {
	client, err := newMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &MinIOSource{client: client, defaultBucket: cfg.Bucket}, nil
}

// Locate accepts s3://bucket/key, bucket/key, or a bare key in the default bucket
func (s *MinIOSource) Locate(reference string) (string, error) {
	bucket, key, err := splitObjectReference(reference, s.defaultBucket)
	if err != nil {
		return "", err
	}
	return bucket + "/" + key, nil
}

// Download fetches the object into dst
func (s *MinIOSource) Download(ctx context.Context, locator, dst string) error {
	bucket, key, err := splitObjectReference(locator, s.defaultBucket)
	if err != nil {
		return err
	}
	if err := s.client.FGetObject(ctx, bucket, key, dst, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to get object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// splitObjectReference parses a reference into bucket and key
func splitObjectReference(reference, defaultBucket string) (string, string, error) {
	ref := strings.TrimSpace(reference)
	explicit := strings.HasPrefix(ref, s3Scheme)
	ref = strings.TrimPrefix(ref, s3Scheme)
	ref = strings.TrimPrefix(ref, "/")
	if ref == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidReference, reference)
	}

	bucket, key, found := strings.Cut(ref, "/")
	switch {
	case found && key != "" && bucket != "":
		return bucket, key, nil
	case explicit:
		return "", "", fmt.Errorf("%w: %q has no object key", ErrInvalidReference, reference)
	case defaultBucket != "":
		return defaultBucket, ref, nil
	default:
		return "", "", fmt.Errorf("%w: %q has no bucket and no default bucket is configured", ErrInvalidReference, reference)
	}
}

// MinIODestination uploads assets to an S3-compatible bucket
type MinIODestination struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIODestination creates a destination backed by minio-go
func NewMinIODestination(cfg S3Config, prefix string) (*MinIODestination, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("destination bucket is required")
	}
	client, err := newMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return &MinIODestination{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// Upload puts the file and returns bucket/key as the external id
func (d *MinIODestination) Upload(ctx context.Context, filePath string, meta Metadata, onProgress ProgressFunc) (string, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", filePath, err)
	}

	key := path.Join(d.prefix, filepath.Base(filePath))
	putOpts := minio.PutObjectOptions{
		ContentType:  "video/mp4",
		UserMetadata: userMetadata(meta),
		Progress:     newProgressReader(nil, info.Size(), onProgress),
	}

	uploaded, err := d.client.FPutObject(ctx, d.bucket, key, filePath, putOpts)
	if err != nil {
		return "", fmt.Errorf("failed to put object %s/%s: %w", d.bucket, key, err)
	}
	onProgress.Report(100)

	return uploaded.Bucket + "/" + uploaded.Key, nil
}

// userMetadata encodes item metadata as S3 user metadata. Values are URL-escaped
// because S3 headers only carry ASCII.
func userMetadata(meta Metadata) map[string]string {
	return map[string]string{
		"title":       url.QueryEscape(meta.Title),
		"description": url.QueryEscape(meta.Description),
		"tags":        url.QueryEscape(strings.Join(meta.Tags, ",")),
	}
}
