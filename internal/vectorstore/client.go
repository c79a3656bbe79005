// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package vectorstore is a narrow client for a Qdrant-compatible vector
// database, bound to a single collection. Points carry a named vector
// ("vs<dim>") and an arbitrary JSON payload.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kairos-ai/kairos/internal/config"
	"github.com/kairos-ai/kairos/internal/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetVectorLogger()
		log = &l
	})
	return log
}

// Point is one stored record: uuid id, named vector, JSON payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint is a Point with a similarity score attached by Search.
type ScoredPoint struct {
	Point
	Score float64
}

// Filter restricts reads to points matching all set fields.
type Filter struct {
	// Spaces limits results to points whose space_id is in the set.
	Spaces []string
	// ChainID, when set, limits results to points of one chain.
	ChainID string
}

// Client talks to one collection of a Qdrant-compatible server over REST.
type Client struct {
	baseURL    string
	collection string
	apiKey     string
	vectorName string
	dim        int

	http          *http.Client
	searchTimeout time.Duration
	healthTimeout time.Duration
}

// New creates a Client from config. VectorName is derived from the embedding
// dimension ("vs768" for dim 768).
func New(cfg *config.VectorConfig, dim int) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		collection:    cfg.Collection,
		apiKey:        cfg.APIKey,
		vectorName:    VectorName(dim),
		dim:           dim,
		http:          &http.Client{},
		searchTimeout: cfg.SearchTimeout,
		healthTimeout: cfg.HealthTimeout,
	}
}

// VectorName returns the named-vector key for a dimension.
func VectorName(dim int) string {
	return fmt.Sprintf("vs%d", dim)
}

// --- request plumbing ---

func (c *Client) do(ctx context.Context, method, path string, body any, out any, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("vector store request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read vector store response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("vector store %s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 300))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode vector store response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func (c *Client) collectionPath(suffix string) string {
	return "/collections/" + c.collection + suffix
}

// qdrantFilter translates a Filter into the wire representation.
func qdrantFilter(f Filter) map[string]any {
	var must []map[string]any
	if len(f.Spaces) > 0 {
		must = append(must, map[string]any{
			"key":   "space_id",
			"match": map[string]any{"any": f.Spaces},
		})
	}
	if f.ChainID != "" {
		must = append(must, map[string]any{
			"key":   "chain.id",
			"match": map[string]any{"value": f.ChainID},
		})
	}
	if must == nil {
		return nil
	}
	return map[string]any{"must": must}
}

// --- operations ---

// Health checks the server's readiness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil, c.healthTimeout)
}

// WaitReady polls Health up to attempts times, interval apart. Used at
// startup so the engine never serves against a cold store.
func (c *Client) WaitReady(ctx context.Context, attempts int, interval time.Duration) error {
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if lastErr = c.Health(ctx); lastErr == nil {
			getLog().Info().Int("attempt", i).Msg("Vector store ready")
			return nil
		}
		getLog().Debug().Err(lastErr).Int("attempt", i).Msg("Vector store not ready")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("vector store not ready after %d attempts: %w", attempts, lastErr)
}

// EnsureCollection creates the collection with a named cosine vector if it
// does not already exist.
func (c *Client) EnsureCollection(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, c.collectionPath(""), nil, nil, c.healthTimeout)
	if err == nil {
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			c.vectorName: map[string]any{
				"size":     c.dim,
				"distance": "Cosine",
			},
		},
	}
	if err := c.do(ctx, http.MethodPut, c.collectionPath(""), body, nil, c.searchTimeout); err != nil {
		return fmt.Errorf("create collection %s: %w", c.collection, err)
	}
	getLog().Info().Str("collection", c.collection).Str("vector", c.vectorName).Msg("Created collection")
	return nil
}

// Upsert writes points (insert or replace by id). Idempotent per point.
func (c *Client) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	wire := make([]map[string]any, 0, len(points))
	for _, p := range points {
		wire = append(wire, map[string]any{
			"id":      p.ID,
			"vector":  map[string]any{c.vectorName: p.Vector},
			"payload": p.Payload,
		})
	}
	return c.do(ctx, http.MethodPut, c.collectionPath("/points?wait=true"), map[string]any{"points": wire}, nil, c.searchTimeout)
}

type searchResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Search runs a cosine similarity query against the named vector.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]ScoredPoint, error) {
	body := map[string]any{
		"vector":       map[string]any{"name": c.vectorName, "vector": vector},
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}

	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/points/search"), body, &resp, c.searchTimeout); err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, ScoredPoint{
			Point: Point{ID: fmt.Sprint(r.ID), Payload: r.Payload},
			Score: r.Score,
		})
	}
	return out, nil
}

type scrollResponse struct {
	Result struct {
		Points []struct {
			ID      any            `json:"id"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	} `json:"result"`
}

// Scroll lists points matching a filter without vector scoring.
func (c *Client) Scroll(ctx context.Context, filter Filter, limit int) ([]Point, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
	}
	if f := qdrantFilter(filter); f != nil {
		body["filter"] = f
	}

	var resp scrollResponse
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/points/scroll"), body, &resp, c.searchTimeout); err != nil {
		return nil, err
	}

	out := make([]Point, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		out = append(out, Point{ID: fmt.Sprint(p.ID), Payload: p.Payload})
	}
	return out, nil
}

type retrieveResponse struct {
	Result []struct {
		ID      any            `json:"id"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// Retrieve fetches points by id with payloads.
func (c *Client) Retrieve(ctx context.Context, ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"ids":          ids,
		"with_payload": true,
	}

	var resp retrieveResponse
	if err := c.do(ctx, http.MethodPost, c.collectionPath("/points"), body, &resp, c.searchTimeout); err != nil {
		return nil, err
	}

	out := make([]Point, 0, len(resp.Result))
	for _, p := range resp.Result {
		out = append(out, Point{ID: fmt.Sprint(p.ID), Payload: p.Payload})
	}
	return out, nil
}

// Delete removes points by id.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := map[string]any{"points": ids}
	return c.do(ctx, http.MethodPost, c.collectionPath("/points/delete?wait=true"), body, nil, c.searchTimeout)
}

// Snapshot asks the server to snapshot the collection. Best-effort; callers
// log and continue on failure.
func (c *Client) Snapshot(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, c.collectionPath("/snapshots"), nil, nil, c.searchTimeout)
}
