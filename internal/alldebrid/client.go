// Package alldebrid is a small client for the AllDebrid magnet and link APIs.
package alldebrid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL    = "https://api.alldebrid.com/v4"
	DefaultBaseURLV41 = "https://api.alldebrid.com/v4.1"
	DefaultAgent      = "watchy"

	// AllDebrid allows 12 requests per second per key.
	DefaultRatePerSecond = 10
)

// ErrMissingAPIKey is returned when a call is attempted without credentials.
var ErrMissingAPIKey = errors.New("alldebrid api key not set")

// APIError describes a failed call, either an HTTP failure or an error envelope.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("alldebrid api error (status %d): %s %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("alldebrid api error: %s %s", e.Code, e.Message)
}

type Config struct {
	APIKey        string
	Agent         string
	BaseURL       string
	BaseURLV41    string
	RatePerSecond float64
	HTTPClient    *http.Client
}

type Client struct {
	apiKey     string
	agent      string
	baseURL    string
	baseURLV41 string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg Config) *Client {
	if cfg.Agent == "" {
		cfg.Agent = DefaultAgent
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.BaseURLV41 == "" {
		cfg.BaseURLV41 = DefaultBaseURLV41
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		agent:      cfg.Agent,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		baseURLV41: strings.TrimRight(cfg.BaseURLV41, "/"),
		httpClient: cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 5),
	}
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *APIError       `json:"error"`
}

func (c *Client) do(ctx context.Context, req *http.Request, result interface{}) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	resp, err := c.httpClient.Do(req.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode, Message: strings.TrimSpace(string(body))}
		if decodeErr == nil && env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if env.Status != "success" {
		if env.Error != nil {
			return env.Error
		}
		return &APIError{Code: "UNKNOWN", Message: fmt.Sprintf("unexpected status %q", env.Status)}
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

// get issues a v4 call authenticated through query parameters.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("agent", c.agent)
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequest(http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(ctx, req, result)
}

// postV41 issues a v4.1 form call authenticated with a bearer token.
func (c *Client) postV41(ctx context.Context, endpoint string, form url.Values, result interface{}) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURLV41+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(ctx, req, result)
}
