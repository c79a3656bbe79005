// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package embedding turns text into fixed-dimension vectors using an
// OpenAI-compatible /v1/embeddings endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/kairos-ai/kairos/internal/config"
)

// MaxBatchSize caps texts per embedding request.
const MaxBatchSize = 100

// Client calls the embedding service.
type Client struct {
	url     string
	model   string
	dim     int
	http    *http.Client
	timeout time.Duration
}

// New creates a Client from config.
func New(cfg *config.EmbeddingConfig) *Client {
	return &Client{
		url:     strings.TrimRight(cfg.URL, "/"),
		model:   cfg.Model,
		dim:     cfg.Dim,
		http:    &http.Client{},
		timeout: cfg.Timeout,
	}
}

// Dim returns the configured vector dimension.
func (c *Client) Dim() int { return c.dim }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed produces one vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch produces one vector per input text, preserving order. Requests
// are chunked to MaxBatchSize.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := c.embedChunk(ctx, texts[start:end], out[start:end]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) embedChunk(ctx context.Context, texts []string, out [][]float32) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service status %d: %s", resp.StatusCode, data)
	}

	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return fmt.Errorf("embedding service returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return fmt.Errorf("embedding service returned out-of-range index %d", d.Index)
		}
		if len(d.Embedding) != c.dim {
			return fmt.Errorf("embedding dimension %d, expected %d", len(d.Embedding), c.dim)
		}
		out[d.Index] = d.Embedding
	}
	return nil
}

// Cosine computes cosine similarity between two vectors. Returns 0 when the
// lengths differ or either vector is all zeros.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
