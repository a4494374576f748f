package rdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/omnia-iot/omnia-backend/interfaces"
)

const (
	contentTypeQuery   = "application/sparql-query"
	contentTypeUpdate  = "application/sparql-update"
	acceptQueryResults = "application/sparql-results+json"

	maxResponseSize = 16 << 20
)

// Client speaks the SPARQL 1.1 protocol to a triple store exposing
// <endpoint>/query and <endpoint>/update.
type Client struct {
	endpoint string
	http     *retryablehttp.Client
	log      *slog.Logger
}

type Option func(*Client)

// WithRetries sets how many times a failed request is retried.
func WithRetries(n int) Option {
	return func(c *Client) {
		c.http.RetryMax = n
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http.HTTPClient = hc
	}
}

func NewClient(endpoint string, log *slog.Logger, opts ...Option) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 100 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.HTTPClient.Timeout = 30 * time.Second
	hc.Logger = log

	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     hc,
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query runs a SPARQL query and returns the JSON result document verbatim.
func (c *Client) Query(ctx context.Context, sparql string) ([]byte, error) {
	return c.post(ctx, "/query", contentTypeQuery, sparql)
}

// Insert writes quads with a single INSERT DATA update.
func (c *Client) Insert(ctx context.Context, quads []interfaces.Quad) error {
	if len(quads) == 0 {
		return nil
	}
	_, err := c.post(ctx, "/update", contentTypeUpdate, InsertData(quads))
	return err
}

func (c *Client) post(ctx context.Context, path, contentType, body string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewBufferString(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", acceptQueryResults)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sparql endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
