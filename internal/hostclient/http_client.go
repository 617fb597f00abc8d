// Package hostclient ships the one reference HostClient implementation the
// coordinator is exercised against in tests and the demo binary: a plain
// http.Client-backed bulk writer. Production deployments are expected to
// supply their own roster.HostClient; this one exists so the coordinator is
// runnable end to end without one.
package hostclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nmslite/docwriter/internal/writeop"
)

// Client writes batches to one cluster host over HTTP. It satisfies
// roster.HostClient structurally.
type Client struct {
	host       string
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client for host, posting to baseURL. A nil httpClient
// defaults to one with a 30s timeout.
func New(host, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{host: host, baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Host returns the stable identity used for round-robin equality.
func (c *Client) Host() string {
	return c.host
}

type wireOp struct {
	URI      string          `json:"uri"`
	OpType   string          `json:"op_type"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
}

type writeRequest struct {
	Transform          string   `json:"transform,omitempty"`
	TemporalCollection string   `json:"temporal_collection,omitempty"`
	ContentFormat      string   `json:"content_format,omitempty"`
	Ops                []wireOp `json:"ops"`
}

// Write performs a plain bulk write of ops using transform (empty for
// none).
func (c *Client) Write(ctx context.Context, ops []writeop.WriteOp, transform string) error {
	return c.post(ctx, "/v1/documents", writeRequest{Transform: transform}, ops)
}

// WriteTemporal performs a bulk write into a temporal collection using
// content-format "unknown", matching the plain-vs-temporal split in the
// BatchTask write path.
func (c *Client) WriteTemporal(ctx context.Context, ops []writeop.WriteOp, transform, temporalCollection string) error {
	return c.post(ctx, "/v1/documents/temporal", writeRequest{
		Transform:          transform,
		TemporalCollection: temporalCollection,
		ContentFormat:      "unknown",
	}, ops)
}

func (c *Client) post(ctx context.Context, path string, req writeRequest, ops []writeop.WriteOp) error {
	req.Ops = make([]wireOp, 0, len(ops))
	for _, op := range ops {
		if op.IsDefaultMetadata() {
			continue
		}
		metadata, err := marshalAny(op.Metadata)
		if err != nil {
			return fmt.Errorf("hostclient: marshal metadata for %s: %w", op.URI, err)
		}
		content, err := marshalAny(op.Content)
		if err != nil {
			return fmt.Errorf("hostclient: marshal content for %s: %w", op.URI, err)
		}
		req.Ops = append(req.Ops, wireOp{
			URI:      op.URI,
			OpType:   op.OpType.String(),
			Metadata: metadata,
			Content:  content,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("hostclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("hostclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("hostclient: request to %s failed: %w", c.host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("hostclient: host %s returned status %d: %s", c.host, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// marshalAny renders an opaque op handle as JSON, draining it first if it
// is a streaming io.Reader.
func marshalAny(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if r, ok := v.(io.Reader); ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		return json.Marshal(data)
	}
	return json.Marshal(v)
}
