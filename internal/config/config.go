package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Collaborator kinds
const (
	WorkListSheets = "sheets"
	WorkListCSV    = "csv"

	SourceDrive = "drive"
	SourceS3    = "s3"

	TargetYouTube = "youtube"
	TargetS3      = "s3"

	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Google    GoogleConfig   `yaml:"google" toml:"google"`
	WorkList  WorkListConfig `yaml:"worklist" toml:"worklist"`
	Source    SourceConfig   `yaml:"source" toml:"source"`
	Target    TargetConfig   `yaml:"target" toml:"target"`
	Migration Migration      `yaml:"migration" toml:"migration"`
	LogLevel  string         `yaml:"log_level" toml:"log_level" env:"LOG_LEVEL, overwrite"`
	LogFile   string         `yaml:"log_file" toml:"log_file" env:"LOG_FILE, overwrite"`
}

// GoogleConfig contains OAuth2 client settings shared by Sheets, Drive and YouTube
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" toml:"client_id" env:"GOOGLE_CLIENT_ID, overwrite"`
	ClientSecret string `yaml:"client_secret" toml:"client_secret" env:"GOOGLE_CLIENT_SECRET, overwrite"`
	RedirectURI  string `yaml:"redirect_uri" toml:"redirect_uri" env:"GOOGLE_REDIRECT_URI, overwrite"`
	TokenFile    string `yaml:"token_file" toml:"token_file" env:"TOKEN_FILE, overwrite"`
}

// WorkListConfig selects where work rows come from
type WorkListConfig struct {
	Kind     string `yaml:"kind" toml:"kind" env:"WORKLIST_KIND, overwrite"`
	SourceID string `yaml:"source_id" toml:"source_id" env:"SPREADSHEET_ID, overwrite"`
	Range    string `yaml:"range" toml:"range" env:"SHEET_RANGE, overwrite"`
}

// S3Config represents S3-compatible storage configuration
type S3Config struct {
	Endpoint  string `yaml:"endpoint" toml:"endpoint" env:"ENDPOINT, overwrite"`
	AccessKey string `yaml:"access_key" toml:"access_key" env:"ACCESS_KEY, overwrite"`
	SecretKey string `yaml:"secret_key" toml:"secret_key" env:"SECRET_KEY, overwrite"`
	Secure    bool   `yaml:"secure" toml:"secure"`
	Bucket    string `yaml:"bucket" toml:"bucket" env:"BUCKET, overwrite"`
	Prefix    string `yaml:"prefix" toml:"prefix"`
}

// SourceConfig selects the service assets are fetched from
type SourceConfig struct {
	Kind string   `yaml:"kind" toml:"kind" env:"SOURCE_KIND, overwrite"`
	S3   S3Config `yaml:"s3" toml:"s3" env:", prefix=SOURCE_S3_"`
}

// YouTubeConfig contains upload defaults
type YouTubeConfig struct {
	CategoryID string `yaml:"category_id" toml:"category_id"`
	Privacy    string `yaml:"privacy" toml:"privacy"`
}

// TargetConfig selects the service assets are uploaded to
type TargetConfig struct {
	Kind    string        `yaml:"kind" toml:"kind" env:"TARGET_KIND, overwrite"`
	YouTube YouTubeConfig `yaml:"youtube" toml:"youtube"`
	S3      S3Config      `yaml:"s3" toml:"s3" env:", prefix=TARGET_S3_"`
}

// Migration represents migration-specific configuration
type Migration struct {
	ProgressFile    string        `yaml:"progress_file" toml:"progress_file" env:"PROGRESS_FILE, overwrite"`
	ProgressBackend string        `yaml:"progress_backend" toml:"progress_backend" env:"PROGRESS_BACKEND, overwrite"`
	TempDir         string        `yaml:"temp_dir" toml:"temp_dir" env:"TEMP_DIR, overwrite"`
	ItemDelay       time.Duration `yaml:"item_delay" toml:"item_delay" env:"ITEM_DELAY, overwrite"`
	DryRun          bool          `yaml:"dry_run" toml:"dry_run"`
	RetryFailed     bool          `yaml:"-" toml:"-"`
	ResetProgress   bool          `yaml:"-" toml:"-"`
	ShowProgress    bool          `yaml:"show_progress" toml:"show_progress"`
	MetricsAddr     string        `yaml:"metrics_addr" toml:"metrics_addr" env:"METRICS_ADDR, overwrite"`
}

// DefaultRedirectURI is a loopback redirect. Nothing needs to listen on it: after
// consent the browser lands on it and the code can be copied from the address bar.
const DefaultRedirectURI = "http://localhost"

const outOfBandRedirectURI = "urn:ietf:wg:oauth:2.0:oob"

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	return &Config{
		LogLevel: "info",
		LogFile:  "upload.log",
		Google: GoogleConfig{
			RedirectURI: DefaultRedirectURI,
			TokenFile:   "token.json",
		},
		WorkList: WorkListConfig{
			Kind:  WorkListSheets,
			Range: "Sheet1!A:E",
		},
		Source: SourceConfig{Kind: SourceDrive},
		Target: TargetConfig{
			Kind: TargetYouTube,
			YouTube: YouTubeConfig{
				CategoryID: "22",
				Privacy:    "private",
			},
			S3: S3Config{Secure: true},
		},
		Migration: Migration{
			ProgressFile:    "progress.json",
			ProgressBackend: BackendJSON,
			TempDir:         "./temp_videos",
			ItemDelay:       2 * time.Second,
			ShowProgress:    true,
		},
	}
}

// Load builds the configuration from defaults, the config file, the environment and
// explicitly set flags, in that order. sourceID, when non-empty, overrides the work list id.
func Load(ctx context.Context, configFile, sourceID string, flags *pflag.FlagSet) (*Config, error) {
	return load(ctx, configFile, sourceID, flags, envconfig.OsLookuper())
}

// LoadLocal builds the configuration for commands that only touch local state.
// Collaborator settings are not validated.
func LoadLocal(ctx context.Context, configFile string, flags *pflag.FlagSet) (*Config, error) {
	return assemble(ctx, configFile, flags, envconfig.OsLookuper())
}

func load(ctx context.Context, configFile, sourceID string, flags *pflag.FlagSet, lookuper envconfig.Lookuper) (*Config, error) {
	cfg, err := assemble(ctx, configFile, flags, lookuper)
	if err != nil {
		return nil, err
	}

	if sourceID != "" {
		cfg.WorkList.SourceID = sourceID
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func assemble(ctx context.Context, configFile string, flags *pflag.FlagSet, lookuper envconfig.Lookuper) (*Config, error) {
	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	if strings.HasSuffix(strings.ToLower(filename), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err == nil && flags.Lookup(name) != nil && flags.Changed(name) {
			err = apply()
		}
	}

	set("range", func() (e error) { cfg.WorkList.Range, e = flags.GetString("range"); return })
	set("worklist", func() (e error) { cfg.WorkList.Kind, e = flags.GetString("worklist"); return })
	set("source", func() (e error) { cfg.Source.Kind, e = flags.GetString("source"); return })
	set("target", func() (e error) { cfg.Target.Kind, e = flags.GetString("target"); return })
	set("token-file", func() (e error) { cfg.Google.TokenFile, e = flags.GetString("token-file"); return })
	set("progress-file", func() (e error) { cfg.Migration.ProgressFile, e = flags.GetString("progress-file"); return })
	set("progress-backend", func() (e error) { cfg.Migration.ProgressBackend, e = flags.GetString("progress-backend"); return })
	set("temp-dir", func() (e error) { cfg.Migration.TempDir, e = flags.GetString("temp-dir"); return })
	set("item-delay", func() (e error) { cfg.Migration.ItemDelay, e = flags.GetDuration("item-delay"); return })
	set("dry-run", func() (e error) { cfg.Migration.DryRun, e = flags.GetBool("dry-run"); return })
	set("retry-failed", func() (e error) { cfg.Migration.RetryFailed, e = flags.GetBool("retry-failed"); return })
	set("reset-progress", func() (e error) { cfg.Migration.ResetProgress, e = flags.GetBool("reset-progress"); return })
	set("show-progress", func() (e error) { cfg.Migration.ShowProgress, e = flags.GetBool("show-progress"); return })
	set("metrics-addr", func() (e error) { cfg.Migration.MetricsAddr, e = flags.GetString("metrics-addr"); return })
	set("log-level", func() (e error) { cfg.LogLevel, e = flags.GetString("log-level"); return })
	set("log-file", func() (e error) { cfg.LogFile, e = flags.GetString("log-file"); return })

	return err
}

// UsesGoogle reports whether any selected collaborator talks to a Google API
func (c *Config) UsesGoogle() bool {
	return c.WorkList.Kind == WorkListSheets || c.Source.Kind == SourceDrive || c.Target.Kind == TargetYouTube
}

func (c *Config) validate() error {
	if c.WorkList.SourceID == "" {
		return fmt.Errorf("work list source id is required")
	}

	switch c.WorkList.Kind {
	case WorkListSheets, WorkListCSV:
	default:
		return fmt.Errorf("unknown work list kind %q", c.WorkList.Kind)
	}

	switch c.Source.Kind {
	case SourceDrive:
	case SourceS3:
		if err := c.Source.S3.validate("source"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown source kind %q", c.Source.Kind)
	}

	switch c.Target.Kind {
	case TargetYouTube:
	case TargetS3:
		if err := c.Target.S3.validate("target"); err != nil {
			return err
		}
		if c.Target.S3.Bucket == "" {
			return fmt.Errorf("target bucket is required")
		}
	default:
		return fmt.Errorf("unknown target kind %q", c.Target.Kind)
	}

	if c.UsesGoogle() {
		if err := c.ValidateGoogle(); err != nil {
			return err
		}
	}

	switch c.Migration.ProgressBackend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("unknown progress backend %q", c.Migration.ProgressBackend)
	}

	if c.Migration.ProgressFile == "" {
		return fmt.Errorf("progress file is required")
	}
	if c.Migration.TempDir == "" {
		return fmt.Errorf("temp dir is required")
	}
	if c.Migration.ItemDelay < 0 {
		return fmt.Errorf("item delay must not be negative")
	}

	return nil
}

// ValidateGoogle checks the OAuth2 client settings
func (c *Config) ValidateGoogle() error {
	if c.Google.ClientID == "" {
		return fmt.Errorf("google client id is required")
	}
	if c.Google.ClientSecret == "" {
		return fmt.Errorf("google client secret is required")
	}
	if c.Google.RedirectURI == "" {
		return fmt.Errorf("google redirect uri is required")
	}
	if c.Google.RedirectURI == outOfBandRedirectURI {
		return fmt.Errorf("google redirect uri %s is no longer accepted by Google, use a loopback uri such as %s", outOfBandRedirectURI, DefaultRedirectURI)
	}
	if c.Google.TokenFile == "" {
		return fmt.Errorf("google token file is required")
	}
	return nil
}

func (s S3Config) validate(role string) error {
	if s.Endpoint == "" {
		return fmt.Errorf("%s endpoint is required", role)
	}
	if s.AccessKey == "" {
		return fmt.Errorf("%s access key is required", role)
	}
	if s.SecretKey == "" {
		return fmt.Errorf("%s secret key is required", role)
	}
	return nil
}
