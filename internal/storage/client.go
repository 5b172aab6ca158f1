package storage

import (
	"context"
	"errors"
)

// ErrInvalidReference is returned when a source reference cannot be resolved to a locator
var ErrInvalidReference = errors.New("invalid source reference")

// WorkSource reads the tabular work list
type WorkSource interface {
	// FetchRows returns every row in the range. Rows may be shorter than expected.
	FetchRows(ctx context.Context, sourceID, rng string) ([][]string, error)
}

// Source fetches assets from the source service
type Source interface {
	// Locate derives the service locator from a work item reference without doing any I/O
	Locate(reference string) (string, error)
	// Download writes the asset identified by locator to dst
	Download(ctx context.Context, locator, dst string) error
}

// Destination receives assets
type Destination interface {
	// Upload transfers the file at path and returns the identifier the destination assigned
	Upload(ctx context.Context, path string, meta Metadata, onProgress ProgressFunc) (string, error)
}

// Metadata accompanies an uploaded asset
type Metadata struct {
	Title       string
	Description string
	Tags        []string
}

// ProgressFunc receives upload progress as a percentage in [0,100]
type ProgressFunc func(percent float64)

// Report calls f with percent clamped to [0,100]. A nil ProgressFunc is a no-op.
func (f ProgressFunc) Report(percent float64) {
	if f == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	f(percent)
}

// S3Config contains S3-compatible storage configuration
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Secure    bool
	Bucket    string
}
