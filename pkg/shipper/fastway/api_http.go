package fastway

import (
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

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPAPIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// envelope wraps every Fastway answer. A non-empty error means the call
// failed even when the status is 200.
type envelope[T any] struct {
	Result T      `json:"result"`
	Error  string `json:"error,omitempty"`
}

// Lookup quotes a parcel.
func (c *HTTPAPIClient) Lookup(ctx context.Context, req *LookupRequest) (*LookupResult, error) {
	path := fmt.Sprintf("/psc/lookup/%s/%s/%s/%d",
		url.PathEscape(req.Franchise), url.PathEscape(req.Suburb), url.PathEscape(req.Postcode), req.Weight)
	q := url.Values{}
	if req.Length > 0 {
		q.Set("LengthInCm", strconv.Itoa(req.Length))
		q.Set("WidthInCm", strconv.Itoa(req.Width))
		q.Set("HeightInCm", strconv.Itoa(req.Height))
	}
	var out envelope[LookupResult]
	if err := c.call(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// ListFranchises lists the franchises of a country.
func (c *HTTPAPIClient) ListFranchises(ctx context.Context, countryCode int) ([]Franchise, error) {
	q := url.Values{"CountryCode": {strconv.Itoa(countryCode)}}
	var out envelope[[]Franchise]
	if err := c.call(ctx, http.MethodGet, "/psc/listrfs", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// CreateConsignment creates a consignment.
func (c *HTTPAPIClient) CreateConsignment(ctx context.Context, req *ConsignmentRequest) (*Consignment, error) {
	var out envelope[Consignment]
	if err := c.call(ctx, http.MethodPost, "/consignments", nil, req, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// GetConsignment returns a consignment.
func (c *HTTPAPIClient) GetConsignment(ctx context.Context, id int) (*Consignment, error) {
	var out envelope[Consignment]
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/consignments/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// GetLabels produces the labels of a consignment.
func (c *HTTPAPIClient) GetLabels(ctx context.Context, id int) (*Labels, error) {
	var out envelope[Labels]
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/consignments/%d/labels", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// DeleteConsignment deletes a consignment.
func (c *HTTPAPIClient) DeleteConsignment(ctx context.Context, id int) error {
	return c.call(ctx, http.MethodDelete, fmt.Sprintf("/consignments/%d", id), nil, nil, nil)
}

// ============================================================================
// HTTP Helpers
// ============================================================================

// errorCarrier is implemented by every envelope.
type errorCarrier interface {
	failure() string
}

func (e *envelope[T]) failure() string { return e.Error }

func (c *HTTPAPIClient) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	resp, err := c.doRequest(ctx, method, path, query, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return parseError(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if ec, ok := out.(errorCarrier); ok && ec.failure() != "" {
		return &APIError{StatusCode: http.StatusBadRequest, Message: ec.failure()}
	}
	return nil
}

func (c *HTTPAPIClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	if query == nil {
		query = url.Values{}
	}
	// Fastway authenticates with the api_key query parameter
	query.Set("api_key", c.apiKey)
	u := c.baseURL + path + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// parseError extracts error information from a failed response.
func parseError(status int, body []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
		apiErr.StatusCode = status
		return &apiErr
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
