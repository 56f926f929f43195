// internal/garmin/client.go
package garmin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the wellness API wrapper inside the compose network.
const DefaultBaseURL = "http://garmin-api:8081"

// maxFileSize caps a single monitoring download.
const maxFileSize = 32 << 20

type Client struct {
	httpClient *http.Client
	baseURL    string
}

// MonitoringFile describes one wellness monitoring FIT file held by the
// service for a calendar day.
type MonitoringFile struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	Date     string `json:"date"`
	Size     int64  `json:"size"`
}

// NewClient creates a new wellness API client. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// ListMonitoringFiles lists the monitoring files recorded on date.
func (c *Client) ListMonitoringFiles(ctx context.Context, date time.Time) ([]MonitoringFile, error) {
	u := fmt.Sprintf("%s/wellness/monitoring?date=%s", c.baseURL, url.QueryEscape(date.Format("2006-01-02")))

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var files []MonitoringFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode monitoring list: %w", err)
	}
	return files, nil
}

// DownloadMonitoringFile fetches the raw FIT bytes of a monitoring file.
func (c *Client) DownloadMonitoringFile(ctx context.Context, fileID string) ([]byte, error) {
	u := fmt.Sprintf("%s/wellness/monitoring/%s/download", c.baseURL, url.PathEscape(fileID))

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFileSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("monitoring file %s exceeds %d bytes", fileID, maxFileSize)
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, body)
	}
	return resp, nil
}
