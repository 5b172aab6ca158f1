package app

import (
	"context"
	"fmt"
	"net/http"

	"drive2youtube/internal/auth"
	"drive2youtube/internal/checkpoint"
	"drive2youtube/internal/config"
	"drive2youtube/internal/storage"

	"go.uber.org/zap"
)

// NewAuthProvider creates the Google credentials provider for cfg
func NewAuthProvider(cfg *config.Config, logger *zap.Logger) *auth.Provider {
	return auth.NewProvider(auth.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURI:  cfg.Google.RedirectURI,
		TokenFile:    cfg.Google.TokenFile,
	}, logger)
}

// OpenStore opens the progress store selected by configuration
func OpenStore(cfg *config.Config, logger *zap.Logger) (checkpoint.Store, error) {
	switch cfg.Migration.ProgressBackend {
	case config.BackendSQLite:
		return checkpoint.NewSQLiteStore(cfg.Migration.ProgressFile)
	default:
		return checkpoint.NewFileStore(cfg.Migration.ProgressFile, logger)
	}
}

// BuildCollaborators constructs the work source, asset source, destination and
// progress store named by configuration. Google credentials are validated once here.
func BuildCollaborators(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Collaborators, error) {
	var googleClient *http.Client
	if cfg.UsesGoogle() {
		client, err := NewAuthProvider(cfg, logger).EnsureValid(ctx)
		if err != nil {
			return Collaborators{}, fmt.Errorf("failed to load google credentials: %w", err)
		}
		googleClient = client
	}

	var c Collaborators

	switch cfg.WorkList.Kind {
	case config.WorkListCSV:
		c.WorkSource = storage.CSVSource{}
	default:
		c.WorkSource = storage.NewSheetsSource(googleClient, "")
	}

	switch cfg.Source.Kind {
	case config.SourceS3:
		source, err := storage.NewMinIOSource(s3Config(cfg.Source.S3))
		if err != nil {
			return Collaborators{}, fmt.Errorf("failed to create source client: %w", err)
		}
		c.Source = source
	default:
		c.Source = storage.NewDriveSource(googleClient, "")
	}

	switch cfg.Target.Kind {
	case config.TargetS3:
		dest, err := storage.NewMinIODestination(s3Config(cfg.Target.S3), cfg.Target.S3.Prefix)
		if err != nil {
			return Collaborators{}, fmt.Errorf("failed to create destination client: %w", err)
		}
		c.Destination = dest
	default:
		c.Destination = storage.NewYouTubeDestination(googleClient, storage.YouTubeConfig{
			CategoryID: cfg.Target.YouTube.CategoryID,
			Privacy:    cfg.Target.YouTube.Privacy,
		})
	}

	store, err := OpenStore(cfg, logger)
	if err != nil {
		return Collaborators{}, fmt.Errorf("failed to open progress store: %w", err)
	}
	c.Store = store

	return c, nil
}

func s3Config(s config.S3Config) storage.S3Config {
	return storage.S3Config{
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Secure:    s.Secure,
		Bucket:    s.Bucket,
	}
}
