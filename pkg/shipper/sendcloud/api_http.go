package sendcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// HTTPAPIClient is the production implementation of APIClient using HTTP.
type HTTPAPIClient struct {
	baseURL         string
	servicePointURL string
	apiKey          string
	apiSecret       string
	httpClient      *http.Client
}

// HTTPAPIClientConfig holds configuration for the HTTP client.
type HTTPAPIClientConfig struct {
	BaseURL string
	// ServicePointURL is the service point API root; BaseURL when empty.
	ServicePointURL string
	APIKey          string
	APISecret       string
	Timeout         time.Duration
}

// NewHTTPAPIClient creates a new HTTP-based API client for production use.
func NewHTTPAPIClient(cfg HTTPAPIClientConfig) *HTTPAPIClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	spURL := cfg.ServicePointURL
	if spURL == "" {
		spURL = cfg.BaseURL
	}

	return &HTTPAPIClient{
		baseURL:         cfg.BaseURL,
		servicePointURL: spURL,
		apiKey:          cfg.APIKey,
		apiSecret:       cfg.APISecret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// GetShippingMethods lists shipping methods.
// GET /shipping_methods?to_country=XX
func (c *HTTPAPIClient) GetShippingMethods(ctx context.Context, req *ShippingMethodsRequest) ([]ShippingMethod, error) {
	q := url.Values{}
	if req.ToCountry != "" {
		q.Set("to_country", req.ToCountry)
	}
	if req.SenderAddress != 0 {
		q.Set("sender_address", strconv.Itoa(req.SenderAddress))
	}
	if req.ServicePoint != 0 {
		q.Set("service_point_id", strconv.Itoa(req.ServicePoint))
	}
	path := "/shipping_methods"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result ShippingMethodsResponse
	if err := c.call(ctx, c.baseURL, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.ShippingMethods, nil
}

// GetServicePoint fetches a service point.
// GET /service-points/{id}
func (c *HTTPAPIClient) GetServicePoint(ctx context.Context, id int) (*ServicePoint, error) {
	var result ServicePoint
	if err := c.call(ctx, c.servicePointURL, http.MethodGet, fmt.Sprintf("/service-points/%d", id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CreateParcel creates a parcel.
// POST /parcels - multi-collo requests answer with a parcels array.
func (c *HTTPAPIClient) CreateParcel(ctx context.Context, req *ParcelRequest) ([]Parcel, error) {
	body, err := c.do(ctx, c.baseURL, http.MethodPost, "/parcels", req)
	if err != nil {
		return nil, err
	}

	var multi ParcelsResponse
	if err := json.Unmarshal(body, &multi); err == nil && len(multi.Parcels) > 0 {
		return multi.Parcels, nil
	}
	var single ParcelResponse
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, fmt.Errorf("failed to decode parcel response: %w", err)
	}
	if single.Parcel.ID == 0 {
		return nil, fmt.Errorf("failed to decode parcel response: no parcel id")
	}
	return []Parcel{single.Parcel}, nil
}

// GetParcel fetches a parcel.
// GET /parcels/{id}
func (c *HTTPAPIClient) GetParcel(ctx context.Context, id int) (*Parcel, error) {
	var result ParcelResponse
	if err := c.call(ctx, c.baseURL, http.MethodGet, fmt.Sprintf("/parcels/%d", id), nil, &result); err != nil {
		return nil, err
	}
	return &result.Parcel, nil
}

// RequestLabel announces an existing parcel.
// PUT /parcels
func (c *HTTPAPIClient) RequestLabel(ctx context.Context, id int) (*Parcel, error) {
	var update LabelUpdate
	update.Parcel.ID = id
	update.Parcel.RequestLabel = true

	var result ParcelResponse
	if err := c.call(ctx, c.baseURL, http.MethodPut, "/parcels", update, &result); err != nil {
		return nil, err
	}
	return &result.Parcel, nil
}

// CancelParcel cancels a parcel.
// POST /parcels/{id}/cancel
func (c *HTTPAPIClient) CancelParcel(ctx context.Context, id int) (*CancelResponse, error) {
	var result CancelResponse
	if err := c.call(ctx, c.baseURL, http.MethodPost, fmt.Sprintf("/parcels/%d/cancel", id), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// call performs a request and decodes the JSON response into out.
func (c *HTTPAPIClient) call(ctx context.Context, base, method, path string, in, out interface{}) error {
	body, err := c.do(ctx, base, method, path, in)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

// do performs an HTTP request with basic authentication and returns the body
// of a 2xx response.
func (c *HTTPAPIClient) do(ctx context.Context, base, method, path string, in interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if in != nil {
		jsonBody, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tournevent-fulfillment/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseError(resp.StatusCode, body)
	}
	return body, nil
}

// parseError extracts error information from a failed response body.
func parseError(status int, body []byte) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		if env.Error.StatusCode == 0 {
			env.Error.StatusCode = status
		}
		return &env.Error
	}
	return &APIError{StatusCode: status, Message: string(body)}
}

// Ensure HTTPAPIClient implements APIClient interface
var _ APIClient = (*HTTPAPIClient)(nil)
