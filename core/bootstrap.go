package voicesession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SessionSettings are the per-widget parameters the hosting API hands out
// before a call: where to connect and how long the call may run.
type SessionSettings struct {
	SocketURL          string `json:"socket_url"`
	MaxDurationSeconds int    `json:"max_duration_seconds"`
	SampleRate         int    `json:"sample_rate"`
}

// BootstrapClient resolves SessionSettings from the hosting HTTP API. The
// API itself is an external collaborator; only this one read is consumed
// here.
type BootstrapClient struct {
	baseURL    string
	httpClient *http.Client
}

type BootstrapOption func(*BootstrapClient)

func WithHTTPClient(client *http.Client) BootstrapOption {
	return func(c *BootstrapClient) { c.httpClient = client }
}

func NewBootstrapClient(baseURL string, opts ...BootstrapOption) *BootstrapClient {
	c := &BootstrapClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   10 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *BootstrapClient) ResolveSettings(ctx context.Context, agentID string) (*SessionSettings, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/widgets/%s/session", c.baseURL, agentID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build session settings request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session settings: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("session settings request returned status %d", resp.StatusCode)
	}

	var settings SessionSettings
	if err := json.NewDecoder(resp.Body).Decode(&settings); err != nil {
		return nil, fmt.Errorf("failed to decode session settings: %w", err)
	}

	return &settings, nil
}
