package credential

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
)

const maxResponseBytes = 1 << 20

// Source yields one ephemeral credential per call
type Source interface {
	Request(ctx context.Context) (Credential, error)
}

// Client fetches ephemeral credentials from the console backend
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client for the given credential endpoint
func NewClient(endpoint string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{endpoint: endpoint, httpClient: httpClient}
}

// Request asks the backend to mint a credential
func (c *Client) Request(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to build credential request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, resp.StatusCode, body)
	}

	return Extract(body)
}

// Minter creates ephemeral credentials with the long-lived realtime key
type Minter struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewMinter creates a minter against the provider base URL
func NewMinter(baseURL, apiKey, model string, httpClient *http.Client) *Minter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Minter{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: httpClient,
	}
}

type mintRequest struct {
	Session mintSession `json:"session"`
}

type mintSession struct {
	Type  string `json:"type"`
	Model string `json:"model"`
}

// Mint calls the provider and returns its raw body and status for relaying
func (m *Minter) Mint(ctx context.Context) ([]byte, int, error) {
	if m.apiKey == "" {
		return nil, 0, ErrNotConfigured
	}

	payload, err := sonic.Marshal(mintRequest{Session: mintSession{Type: "realtime", Model: m.model}})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to encode mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/realtime/client_secrets", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build mint request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OpenAI-Beta", "realtime=v1")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return body, resp.StatusCode, nil
}

// Request mints and extracts in-process, for clients running next to the key
func (m *Minter) Request(ctx context.Context) (Credential, error) {
	body, status, err := m.Mint(ctx)
	if err != nil {
		return Credential{}, err
	}
	if status < 200 || status > 299 {
		return Credential{}, fmt.Errorf("%w: status %d: %s", ErrUpstreamUnavailable, status, body)
	}
	cred, err := Extract(body)
	if err != nil {
		return Credential{}, err
	}
	if cred.Model == "" {
		cred.Model = m.model
	}
	return cred, nil
}
