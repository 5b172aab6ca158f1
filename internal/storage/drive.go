package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
)

const defaultDriveBaseURL = "https://www.googleapis.com/drive/v3"

// Drive link formats, tried in order
var driveFileIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`id=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`/open\?id=([a-zA-Z0-9_-]+)`),
}

// ExtractDriveFileID returns the file id embedded in a Google Drive link
func ExtractDriveFileID(link string) (string, bool) {
	for _, pattern := range driveFileIDPatterns {
		if match := pattern.FindStringSubmatch(link); match != nil {
			return match[1], true
		}
	}
	return "", false
}

// DriveSource downloads files from Google Drive
type DriveSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewDriveSource creates a Drive source. The client must carry Drive read credentials.
func NewDriveSource(client *http.Client, baseURL string) *DriveSource {
	if baseURL == "" {
		baseURL = defaultDriveBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &DriveSource{baseURL: baseURL, httpClient: client}
}

// Locate extracts the Drive file id from a share link
func (d *DriveSource) Locate(reference string) (string, error) {
	id, ok := ExtractDriveFileID(reference)
	if !ok {
		return "", fmt.Errorf("%w: not a Google Drive link: %q", ErrInvalidReference, reference)
	}
	return id, nil
}

// Download streams the file content into dst
func (d *DriveSource) Download(ctx context.Context, fileID, dst string) error {
	endpoint := fmt.Sprintf("%s/files/%s?alt=media&supportsAllDrives=true", d.baseURL, url.PathEscape(fileID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to download file %s: %w", fileID, googleAPIError("drive", resp))
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file %s: %w", fileID, err)
	}
	return out.Close()
}
