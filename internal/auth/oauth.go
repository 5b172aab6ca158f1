package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	googleAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	googleTokenURL = "https://oauth2.googleapis.com/token"
)

// Scopes requested for the work list, source and target APIs
var Scopes = []string{
	"https://www.googleapis.com/auth/youtube.upload",
	"https://www.googleapis.com/auth/spreadsheets.readonly",
	"https://www.googleapis.com/auth/drive.readonly",
}

// ErrNotAuthenticated is returned when no saved token exists
var ErrNotAuthenticated = errors.New("not authenticated: run the auth command first")

// Config holds OAuth2 client settings
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	TokenFile    string
	// Endpoint overrides the Google endpoint when set
	Endpoint oauth2.Endpoint
}

// Provider loads, refreshes and persists a Google OAuth2 token
type Provider struct {
	config    *oauth2.Config
	tokenFile string
	logger    *zap.Logger
}

// NewProvider creates a credentials provider
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = oauth2.Endpoint{
			AuthURL:   googleAuthURL,
			TokenURL:  googleTokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       Scopes,
			Endpoint:     endpoint,
		},
		tokenFile: cfg.TokenFile,
		logger:    logger,
	}
}

// AuthURL returns the consent page URL for offline access
func (p *Provider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and saves it
func (p *Provider) Exchange(ctx context.Context, code string) error {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange auth code: %w", err)
	}
	if err := p.saveToken(token); err != nil {
		return err
	}
	p.logger.Info("Saved OAuth token", zap.String("file", p.tokenFile))
	return nil
}

// EnsureValid returns an authenticated HTTP client, refreshing and saving the token when it expired
func (p *Provider) EnsureValid(ctx context.Context) (*http.Client, error) {
	token, err := p.loadToken()
	if err != nil {
		return nil, err
	}

	source := p.config.TokenSource(ctx, token)
	fresh, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	if fresh.AccessToken != token.AccessToken {
		p.logger.Info("Refreshed OAuth token", zap.Time("expiry", fresh.Expiry))
		if err := p.saveToken(fresh); err != nil {
			return nil, err
		}
	}

	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(fresh, source)), nil
}

func (p *Provider) loadToken() (*oauth2.Token, error) {
	data, err := os.ReadFile(p.tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, ErrNotAuthenticated
	}
	return &token, nil
}

func (p *Provider) saveToken(token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if dir := filepath.Dir(p.tokenFile); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
	}

	tmp := p.tokenFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, p.tokenFile); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}
