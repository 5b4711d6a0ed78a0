// Package collector retrieves trace files from the trace collector service.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Mr-Dark-debug/traviz/internal/modes"
	"github.com/Mr-Dark-debug/traviz/internal/trace"
	"github.com/Mr-Dark-debug/traviz/internal/tracefile"
)

var (
	// ErrStatus is wrapped around non-200 collector responses.
	ErrStatus = errors.New("unexpected collector status")
	// ErrTooLarge is returned when a trace file exceeds the size cap.
	ErrTooLarge = errors.New("trace file too large")
)

// defaultMaxBody caps the size of a downloaded trace file.
const defaultMaxBody = 1 << 30

// Query selects the spans to retrieve.
type Query struct {
	Window trace.Window
	Filter modes.AttributionSet
}

type requestBody struct {
	StartMs int64         `json:"start_timestamp_unix_ms"`
	EndMs   int64         `json:"end_timestamp_unix_ms"`
	Filter  requestFilter `json:"filter"`
}

type requestFilter struct {
	Nodes   []string `json:"nodes"`
	Threads []string `json:"threads"`
}

// Client talks to the collector over HTTP.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
	maxBody    int64
}

// NewClient creates a collector client for the endpoint url.
func NewClient(url string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		maxBody:    defaultMaxBody,
	}
}

// URL returns the collector endpoint.
func (c *Client) URL() string { return c.url }

// Fetch posts q and returns the trace file bytes.
func (c *Client) Fetch(ctx context.Context, q Query) ([]byte, error) {
	body := requestBody{
		StartMs: q.Window.Start.Millis(),
		EndMs:   q.Window.End.Millis(),
		Filter: requestFilter{
			Nodes:   nonNil(q.Filter.Nodes),
			Threads: nonNil(q.Filter.Threads),
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding collector request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating collector request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("collector request failed", zap.String("url", c.url), zap.Error(err))
		return nil, fmt.Errorf("collector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("collector rejected request",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", msg))
		return nil, fmt.Errorf("%w: %d %s", ErrStatus, resp.StatusCode, bytes.TrimSpace(msg))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("reading collector response: %w", err)
	}
	if int64(len(data)) > c.maxBody {
		c.logger.Warn("collector response over size cap", zap.Int64("max_bytes", c.maxBody))
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, c.maxBody)
	}
	c.logger.Info("fetched trace",
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", time.Since(start)))
	return data, nil
}

// FetchTrace fetches and decodes a trace.
func (c *Client) FetchTrace(ctx context.Context, q Query) (*trace.RawTrace, error) {
	data, err := c.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	records, err := tracefile.Decode(data, tracefile.FormatAuto)
	if err != nil {
		return nil, fmt.Errorf("decoding collector response: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return trace.Build(records), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
