package main

import (
	"bufio"
	"fmt"
	"net/url"
	"strings"

	"drive2youtube/internal/app"
	"drive2youtube/internal/config"
	"drive2youtube/internal/logger"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:          "auth",
	Short:        "Authorize access to Google Sheets, Drive and YouTube",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runAuth,
}

func runAuth(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadLocal(cmd.Context(), configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateGoogle(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	provider := app.NewAuthProvider(cfg, log)

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Open this URL in a browser and grant access:")
	fmt.Fprintln(out)
	fmt.Fprintln(out, provider.AuthURL(uuid.NewString()))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "After consent the browser is sent to %s; the page may not load.\n", cfg.Google.RedirectURI)
	fmt.Fprint(out, "Paste the full address from the browser, or just the code: ")

	input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && input == "" {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}
	code, err := authCode(input)
	if err != nil {
		return err
	}

	if err := provider.Exchange(cmd.Context(), code); err != nil {
		return err
	}
	fmt.Fprintf(out, "Token saved to %s\n", cfg.Google.TokenFile)
	return nil
}

// authCode accepts a bare code or the redirect address carrying it in the code parameter
func authCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("authorization code is empty")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("failed to parse redirect address: %w", err)
	}
	query := u.Query()
	if reason := query.Get("error"); reason != "" {
		return "", fmt.Errorf("authorization denied: %s", reason)
	}
	code := query.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect address has no code parameter")
	}
	return code, nil
}
