package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/banshee-data/tlv-telemetry/internal/httputil"
)

// maxResponseSize bounds responses read from a remote monitor.
const maxResponseSize = 1 << 20

// Client reads the current values from another monitor's API.
type Client struct {
	base *url.URL
	http httputil.HTTPClient
}

// NewClient returns a client for the monitor at baseURL. A nil httpClient
// means http.DefaultClient.
func NewClient(baseURL string, httpClient httputil.HTTPClient) (*Client, error) {
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse monitor url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("monitor url %q has no host", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: u, http: httpClient}, nil
}

// Snapshot fetches /api/snapshot, asking for MessagePack.
func (c *Client) Snapshot(ctx context.Context) (SnapshotResponse, error) {
	var out SnapshotResponse
	err := c.get(ctx, "/api/snapshot", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", httputil.ContentTypeMsgpack+", application/json;q=0.5")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", u, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("get %s: %s: %s", u, resp.Status, apiErr.Error)
		}
		return fmt.Errorf("get %s: %s", u, resp.Status)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), httputil.ContentTypeMsgpack) {
		if err := msgpack.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s: %w", u, err)
		}
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", u, err)
	}
	return nil
}
