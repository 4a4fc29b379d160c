// Package crux talks to the Chrome UX Report API. It is the retrieval side of
// cruxview: it turns origin strings into raw response bodies and leaves all
// interpretation to the report package.
package crux

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultEndpoint is the queryRecord method of the public CrUX API.
	DefaultEndpoint = "https://chromeuxreport.googleapis.com/v1/records:queryRecord"

	// DefaultFormFactor matches what the dashboard has always requested.
	DefaultFormFactor = "PHONE"

	// maxResponseBytes caps how much of an upstream reply we buffer.
	maxResponseBytes = 4 * 1024 * 1024
)

// Fetcher returns the raw JSON body of one origin's record.
type Fetcher interface {
	QueryRecord(ctx context.Context, origin string) (json.RawMessage, error)
}

// Config holds client settings. Only APIKey is required.
type Config struct {
	APIKey     string
	Endpoint   string        // defaults to DefaultEndpoint
	FormFactor string        // defaults to DefaultFormFactor
	Timeout    time.Duration // per request; defaults to 15s
	HTTPClient *http.Client  // optional; Timeout is ignored when set
}

// Client is a Fetcher backed by the CrUX HTTP API.
type Client struct {
	endpoint   string
	formFactor string
	http       *http.Client
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("CrUX API key is required (set GOOGLE_API_KEY or api_key)")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be http or https", endpoint)
	}
	q := u.Query()
	q.Set("key", cfg.APIKey)
	u.RawQuery = q.Encode()

	formFactor := cfg.FormFactor
	if formFactor == "" {
		formFactor = DefaultFormFactor
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		endpoint:   u.String(),
		formFactor: formFactor,
		http:       httpClient,
	}, nil
}

// queryRequest is the POST body of records:queryRecord.
type queryRequest struct {
	FormFactor string `json:"formFactor"`
	Origin     string `json:"origin"`
}

// QueryRecord posts one origin to the API and returns the reply verbatim.
// A non-2xx reply is returned as an *APIError.
func (c *Client) QueryRecord(ctx context.Context, origin string) (json.RawMessage, error) {
	payload, err := json.Marshal(queryRequest{FormFactor: c.formFactor, Origin: origin})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", origin, redactKey(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("query %s: reading response: %w", origin, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("query %s: upstream returned invalid JSON", origin)
	}

	return json.RawMessage(body), nil
}

// redactKey strips the query string from *url.Error so the API key never
// reaches logs or HTTP responses.
func redactKey(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if u, perr := url.Parse(uerr.URL); perr == nil {
			u.RawQuery = ""
			return &url.Error{Op: uerr.Op, URL: u.String(), Err: uerr.Err}
		}
	}
	return err
}
