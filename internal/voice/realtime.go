package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/switchboard/internal/observability"
)

const (
	realtimeBaseURL     = "https://api.openai.com/v1/realtime"
	realtimeHTTPTimeout = 30 * time.Second
)

// RealtimeConfig configures the signaling client.
type RealtimeConfig struct {
	APIKey       string
	Model        string
	Voice        string
	Instructions string
	BaseURL      string
}

// RealtimeClient mints ephemeral client secrets and relays SDP offers to the
// OpenAI Realtime API. Audio itself flows peer-to-peer over WebRTC; the
// server only signs the session in.
type RealtimeClient struct {
	config RealtimeConfig
	client *http.Client
	logger *observability.Logger
}

// NewRealtimeClient creates a signaling client.
func NewRealtimeClient(config RealtimeConfig, logger *observability.Logger) *RealtimeClient {
	if config.BaseURL == "" {
		config.BaseURL = realtimeBaseURL
	}
	return &RealtimeClient{
		config: config,
		client: &http.Client{Timeout: realtimeHTTPTimeout},
		logger: logger,
	}
}

// Configured reports whether an API key is present.
func (c *RealtimeClient) Configured() bool {
	return c.config.APIKey != ""
}

// CreateClientSecret mints an ephemeral token the browser uses for the SDP
// exchange and the data channel.
func (c *RealtimeClient) CreateClientSecret(ctx context.Context) (string, error) {
	payload := map[string]any{
		"session": map[string]any{
			"type":         "realtime",
			"model":        c.config.Model,
			"instructions": c.config.Instructions,
			"audio": map[string]any{
				"output": map[string]any{"voice": c.config.Voice},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode client secret request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/client_secrets", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("client secret request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("client secret request failed: %s: %s", resp.Status, truncateBody(data))
	}

	var decoded struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", fmt.Errorf("decode client secret: %w", err)
	}
	if decoded.Value == "" {
		return "", fmt.Errorf("client secret response carried no value")
	}
	return decoded.Value, nil
}

// ExchangeSDP relays the browser's SDP offer and returns the answer. The
// ephemeral token from CreateClientSecret authenticates the call.
func (c *RealtimeClient) ExchangeSDP(ctx context.Context, offer []byte, ephemeralToken string) ([]byte, error) {
	url := fmt.Sprintf("%s/calls?model=%s", c.config.BaseURL, c.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(offer))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+ephemeralToken)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sdp exchange: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("sdp exchange failed: %s: %s", resp.Status, truncateBody(data))
	}
	return data, nil
}

func truncateBody(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
