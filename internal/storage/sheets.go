package storage

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

const defaultSheetsBaseURL = "https://sheets.googleapis.com/v4"

// SheetsSource reads work rows from a Google Sheets range
type SheetsSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewSheetsSource creates a Sheets work source. The client must carry Sheets read credentials.
func NewSheetsSource(client *http.Client, baseURL string) *SheetsSource {
	if baseURL == "" {
		baseURL = defaultSheetsBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SheetsSource{baseURL: baseURL, httpClient: client}
}

// FetchRows reads the A1 range of a spreadsheet. Every cell is returned as a string.
func (s *SheetsSource) FetchRows(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	endpoint := fmt.Sprintf("%s/spreadsheets/%s/values/%s", s.baseURL, url.PathEscape(spreadsheetID), url.PathEscape(rng))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch spreadsheet data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch spreadsheet data: %w", googleAPIError("sheets", resp))
	}

	var valueRange struct {
		Values [][]any `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&valueRange); err != nil {
		return nil, fmt.Errorf("failed to decode spreadsheet data: %w", err)
	}

	rows := make([][]string, 0, len(valueRange.Values))
	for _, values := range valueRange.Values {
		row := make([]string, len(values))
		for i, cell := range values {
			if cell != nil {
				row[i] = fmt.Sprint(cell)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// CSVSource reads work rows from a local CSV file. The source id is the file path.
type CSVSource struct{}

// FetchRows reads every record of the file. The range is ignored.
func (CSVSource) FetchRows(ctx context.Context, path, _ string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open work list: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read work list: %w", err)
		}
		rows = append(rows, record)
	}
}
