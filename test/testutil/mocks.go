// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package testutil provides in-memory fakes for the external collaborators
// (vector store, embedder, KV store) so engine and store tests run without
// infrastructure.
package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kairos-ai/kairos/internal/embedding"
	"github.com/kairos-ai/kairos/internal/kv"
	"github.com/kairos-ai/kairos/internal/vectorstore"
)

// --- fake vector store ---

// FakeVectorStore keeps points in a map and scores searches with real
// cosine similarity over the stored vectors.
type FakeVectorStore struct {
	mu     sync.RWMutex
	points map[string]vectorstore.Point

	// FailWith, when set, makes every call return this error.
	FailWith error
}

// NewFakeVectorStore creates an empty fake.
func NewFakeVectorStore() *FakeVectorStore {
	return &FakeVectorStore{points: make(map[string]vectorstore.Point)}
}

func (f *FakeVectorStore) Upsert(_ context.Context, points []vectorstore.Point) error {
	if f.FailWith != nil {
		return f.FailWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range points {
		f.points[p.ID] = p
	}
	return nil
}

func matchesFilter(p vectorstore.Point, filter vectorstore.Filter) bool {
	if len(filter.Spaces) > 0 {
		space, _ := p.Payload["space_id"].(string)
		found := false
		for _, s := range filter.Spaces {
			if s == space {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.ChainID != "" {
		chain, _ := p.Payload["chain"].(map[string]any)
		if chain == nil {
			return false
		}
		if id, _ := chain["id"].(string); id != filter.ChainID {
			return false
		}
	}
	return true
}

func (f *FakeVectorStore) Search(_ context.Context, vector []float32, limit int, filter vectorstore.Filter) ([]vectorstore.ScoredPoint, error) {
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var hits []vectorstore.ScoredPoint
	for _, p := range f.points {
		if !matchesFilter(p, filter) {
			continue
		}
		score := embedding.Cosine(vector, p.Vector)
		if score <= 0 {
			continue
		}
		hits = append(hits, vectorstore.ScoredPoint{Point: p, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *FakeVectorStore) Scroll(_ context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Point, error) {
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []vectorstore.Point
	for _, p := range f.points {
		if matchesFilter(p, filter) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FakeVectorStore) Retrieve(_ context.Context, ids []string) ([]vectorstore.Point, error) {
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []vectorstore.Point
	for _, id := range ids {
		if p, ok := f.points[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *FakeVectorStore) Delete(_ context.Context, ids []string) error {
	if f.FailWith != nil {
		return f.FailWith
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.points, id)
	}
	return nil
}

// Len reports the number of stored points.
func (f *FakeVectorStore) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.points)
}

// --- fake embedder ---

// FakeEmbedder produces deterministic bag-of-words vectors: texts sharing
// words land near each other, disjoint texts are near-orthogonal. That is
// enough signal for relevance-threshold tests.
type FakeEmbedder struct {
	DimSize int
	// FailWith, when set, makes every call return this error.
	FailWith error
}

// NewFakeEmbedder creates a fake with a small default dimension.
func NewFakeEmbedder() *FakeEmbedder {
	return &FakeEmbedder{DimSize: 64}
}

func (f *FakeEmbedder) Dim() int { return f.DimSize }

func (f *FakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	vec := make([]float32, f.DimSize)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(word, ".,;:!?\"'()")))
		vec[h.Sum32()%uint32(f.DimSize)]++
	}
	return vec, nil
}

func (f *FakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.FailWith != nil {
		return nil, f.FailWith
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// --- fake KV store ---

type kvEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV is an in-process kv.Store with TTL support and local pub/sub.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string]kvEntry
	subs map[string][]chan string
}

var _ kv.Store = (*MemoryKV)(nil)

// NewMemoryKV creates an empty in-memory KV store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		data: make(map[string]kvEntry),
		subs: make(map[string][]chan string),
	}
}

func (m *MemoryKV) get(key string) (string, bool) {
	e, ok := m.data[key]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(m.data, key)
		return "", false
	}
	return e.value, true
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(key)
	if !ok {
		return "", kv.ErrNotFound
	}
	return v, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := kvEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.get(key)
	if !ok {
		return "", kv.ErrNotFound
	}
	delete(m.data, key)
	return v, nil
}

func (m *MemoryKV) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	if v, ok := m.get(key); ok {
		fmt.Sscanf(v, "%d", &n)
	}
	n++
	e := kvEntry{value: fmt.Sprintf("%d", n)}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	m.data[key] = e
	return n, nil
}

func (m *MemoryKV) Publish(_ context.Context, channel, message string) error {
	m.mu.Lock()
	subs := append([]chan string(nil), m.subs[channel]...)
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- message:
		default:
		}
	}
	return nil
}

func (m *MemoryKV) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	ch := make(chan string, 16)
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], ch)
	m.mu.Unlock()

	out := make(chan string, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ch:
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *MemoryKV) Close() error { return nil }
