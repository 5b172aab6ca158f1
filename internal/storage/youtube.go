package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
)

const (
	defaultYouTubeUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos"
	defaultCategoryID       = "22" // People & Blogs
	defaultPrivacy          = "private"
)

// YouTubeConfig contains video defaults applied to every upload
type YouTubeConfig struct {
	UploadURL  string
	CategoryID string
	Privacy    string
}

// YouTubeDestination uploads videos with the YouTube Data API resumable protocol
type YouTubeDestination struct {
	cfg        YouTubeConfig
	httpClient *http.Client
}

type videoSnippet struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	CategoryID  string   `json:"categoryId"`
}

type videoStatus struct {
	PrivacyStatus           string `json:"privacyStatus"`
	SelfDeclaredMadeForKids bool   `json:"selfDeclaredMadeForKids"`
}

type videoResource struct {
	Snippet videoSnippet `json:"snippet"`
	Status  videoStatus  `json:"status"`
}

// NewYouTubeDestination creates a YouTube destination. The client must carry youtube.upload credentials.
func NewYouTubeDestination(client *http.Client, cfg YouTubeConfig) *YouTubeDestination {
	if cfg.UploadURL == "" {
		cfg.UploadURL = defaultYouTubeUploadURL
	}
	if cfg.CategoryID == "" {
		cfg.CategoryID = defaultCategoryID
	}
	if cfg.Privacy == "" {
		cfg.Privacy = defaultPrivacy
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &YouTubeDestination{cfg: cfg, httpClient: client}
}

// Upload sends the video and returns the id YouTube assigned to it
func (y *YouTubeDestination) Upload(ctx context.Context, path string, meta Metadata, onProgress ProgressFunc) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat video: %w", err)
	}

	sessionURL, err := y.startSession(ctx, meta, info.Size())
	if err != nil {
		return "", err
	}

	body := newProgressReader(f, info.Size(), onProgress)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "video/*")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("failed to upload video: %w", googleAPIError("youtube", resp))
	}

	var video struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&video); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if video.ID == "" {
		return "", fmt.Errorf("upload succeeded but no video ID returned")
	}

	onProgress.Report(100)
	return video.ID, nil
}

// startSession opens a resumable upload session and returns its URL
func (y *YouTubeDestination) startSession(ctx context.Context, meta Metadata, size int64) (string, error) {
	tags := meta.Tags
	if tags == nil {
		tags = []string{}
	}
	payload, err := json.Marshal(videoResource{
		Snippet: videoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        tags,
			CategoryID:  y.cfg.CategoryID,
		},
		Status: videoStatus{PrivacyStatus: y.cfg.Privacy},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal video metadata: %w", err)
	}

	endpoint := y.cfg.UploadURL + "?uploadType=resumable&part=snippet,status"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "video/*")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to start upload session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to start upload session: %w", googleAPIError("youtube", resp))
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("upload session response has no Location header")
	}
	return location, nil
}
