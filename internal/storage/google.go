package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// googleAPIError builds an error from a non-2xx Google API response
func googleAPIError(service string, resp *http.Response) error {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("%s API error (status %d): %s", service, resp.StatusCode, errResp.Error.Message)
	}
	return fmt.Errorf("%s API error: status %d", service, resp.StatusCode)
}
