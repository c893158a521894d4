// Package brandloom provides the official Go SDK for the Brandloom
// marketing-content platform.
//
// The realtime collaboration core is the heart of the package: a WebSocket
// connection manager (RealtimeClient), presence tracking (Tracker),
// collaborative document editing (Engine), and a notification delivery queue
// (Center). The three derived-state components subscribe to the client's
// event stream and each own their slice of state exclusively.
//
// Example:
//
//	client := brandloom.NewClient("bl-...")
//
//	rt := client.Realtime()
//	rt.Connect(ctx)
//	rt.Authenticate(ctx, brandloom.UserInfo{UserID: "u1", Username: "ana"})
//
//	presence := brandloom.NewTracker(rt)
//	doc := brandloom.NewEngine(rt, "room-1", "doc-1", user)
//	inbox := brandloom.NewCenter(rt)
//
// A thin REST surface covers the platform's HTTP collaborators: AI content
// generation, content approvals, and the brand-asset library.
package brandloom

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// Environment
// ============================================================================

type Environment string

const (
	Production Environment = "production"
	Staging    Environment = "staging"
)

var environments = map[Environment]string{
	Production: "https://api.brandloom.io",
	Staging:    "https://staging.api.brandloom.io",
}

const (
	DefaultBaseURL = "https://api.brandloom.io"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the Brandloom REST client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        Logger
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithEnvironment(env Environment) ClientOption {
	return func(c *Client) {
		if u, ok := environments[env]; ok {
			c.baseURL = u
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(l Logger) ClientOption {
	return func(c *Client) { c.log = l }
}

// NewClient creates a new Brandloom client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: NopLogger{},
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the auth token.
func (c *Client) SetToken(token string) {
	c.apiKey = token
}

// Realtime returns a RealtimeClient for the collaboration gateway behind the
// same base URL, authenticating with the client's token.
func (c *Client) Realtime(opts ...RealtimeOption) *RealtimeClient {
	all := append([]RealtimeOption{
		WithRealtimeConfig(RealtimeConfig{Token: c.apiKey, AutoReconnect: true}),
		WithRealtimeLogger(c.log),
	}, opts...)
	return NewRealtimeClient(c.baseURL, all...)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Content generation
// ============================================================================

// GenerateContent runs a generation job and waits for the batch result.
func (c *Client) GenerateContent(ctx context.Context, req *GenerationRequest) (*GenerationResult, error) {
	data, err := c.doRequest(ctx, "POST", "/api/ai/content-generation", req, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[GenerationResult](data)
}

// GenerateContentStream runs a generation job in streaming mode, invoking fn
// for every chunk. Malformed chunks are logged and skipped; they never abort
// the stream.
func (c *Client) GenerateContentStream(ctx context.Context, req *GenerationRequest, fn func(chunk GenerationChunk)) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/api/ai/content-generation?stream=true", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream HTTP %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk GenerationChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			c.log.Debug("skipping malformed stream chunk", map[string]any{"error": err.Error()})
			continue
		}
		fn(chunk)
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}

// ============================================================================
// Approvals
// ============================================================================

// SubmitForApproval queues content for review.
func (c *Client) SubmitForApproval(ctx context.Context, contentID string) (*Approval, error) {
	data, err := c.doRequest(ctx, "POST", "/api/approvals", map[string]string{"contentId": contentID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Approval](data)
}

// DecideApproval records a reviewer decision.
func (c *Client) DecideApproval(ctx context.Context, approvalID string, decision ApprovalDecision) (*Approval, error) {
	data, err := c.doRequest(ctx, "PUT", "/api/approvals/"+approvalID, decision, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Approval](data)
}

// ListApprovals returns approvals, optionally filtered by status.
func (c *Client) ListApprovals(ctx context.Context, status string, opts *ListOptions) ([]Approval, error) {
	query := listQuery(opts)
	if status != "" {
		query["status"] = status
	}
	data, err := c.doRequest(ctx, "GET", "/api/approvals", nil, query)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[[]Approval](data)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// ============================================================================
// Brand assets
// ============================================================================

// CreateAsset adds an asset to the brand library.
func (c *Client) CreateAsset(ctx context.Context, input AssetInput) (*BrandAsset, error) {
	data, err := c.doRequest(ctx, "POST", "/api/brand-assets", input, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[BrandAsset](data)
}

// GetAsset fetches one asset.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*BrandAsset, error) {
	data, err := c.doRequest(ctx, "GET", "/api/brand-assets/"+assetID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[BrandAsset](data)
}

// ListAssets pages through the brand library.
func (c *Client) ListAssets(ctx context.Context, opts *ListOptions) ([]BrandAsset, error) {
	data, err := c.doRequest(ctx, "GET", "/api/brand-assets", nil, listQuery(opts))
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[[]BrandAsset](data)
	if err != nil {
		return nil, err
	}
	return *result, nil
}

// UpdateAsset rewrites an asset's fields.
func (c *Client) UpdateAsset(ctx context.Context, assetID string, input AssetInput) (*BrandAsset, error) {
	data, err := c.doRequest(ctx, "PUT", "/api/brand-assets/"+assetID, input, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[BrandAsset](data)
}

// DeleteAsset removes an asset.
func (c *Client) DeleteAsset(ctx context.Context, assetID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/api/brand-assets/"+assetID, nil, nil)
	return err
}

func listQuery(opts *ListOptions) map[string]string {
	query := map[string]string{}
	if opts != nil {
		if opts.Limit > 0 {
			query["limit"] = strconv.Itoa(opts.Limit)
		}
		if opts.Offset > 0 {
			query["offset"] = strconv.Itoa(opts.Offset)
		}
	}
	return query
}
