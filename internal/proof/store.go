// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package proof

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kairos-ai/kairos/internal/kv"
)

// DefaultTTL is the lifetime of all per-step proof keys, refreshed on write.
const DefaultTTL = time.Hour

// Store persists per-step proof state in the KV store under
// nonce:/proof:/proof_hash:/retry:<uuid> keys.
type Store struct {
	kvs kv.Store
	ttl time.Duration
}

// NewStore wires a proof store. ttl <= 0 falls back to DefaultTTL.
func NewStore(kvs kv.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kvs: kvs, ttl: ttl}
}

func nonceKey(id uuid.UUID) string     { return "nonce:" + id.String() }
func resultKey(id uuid.UUID) string    { return "proof:" + id.String() }
func proofHashKey(id uuid.UUID) string { return "proof_hash:" + id.String() }
func retryKey(id uuid.UUID) string     { return "retry:" + id.String() }

// SetNonce stores the nonce last issued for a step.
func (s *Store) SetNonce(ctx context.Context, id uuid.UUID, nonce string) error {
	return s.kvs.Set(ctx, nonceKey(id), nonce, s.ttl)
}

// GetNonce returns the stored nonce, or "" when none is outstanding.
func (s *Store) GetNonce(ctx context.Context, id uuid.UUID) (string, error) {
	v, err := s.kvs.Get(ctx, nonceKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// ConsumeNonce deletes and returns the stored nonce, enforcing single use.
func (s *Store) ConsumeNonce(ctx context.Context, id uuid.UUID) (string, error) {
	v, err := s.kvs.GetDel(ctx, nonceKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// SaveResult persists the latest proof record for a step.
func (s *Store) SaveResult(ctx context.Context, id uuid.UUID, rec *Record) error {
	return kv.SetJSON(ctx, s.kvs, resultKey(id), rec, s.ttl)
}

// GetResult returns the latest proof record, or nil when none exists.
func (s *Store) GetResult(ctx context.Context, id uuid.UUID) (*Record, error) {
	var rec Record
	err := kv.GetJSON(ctx, s.kvs, resultKey(id), &rec)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetProofHash stores the accepted proof hash for a step.
func (s *Store) SetProofHash(ctx context.Context, id uuid.UUID, hash string) error {
	return s.kvs.Set(ctx, proofHashKey(id), hash, s.ttl)
}

// GetProofHash returns the stored proof hash, or "" when none exists.
func (s *Store) GetProofHash(ctx context.Context, id uuid.UUID) (string, error) {
	v, err := s.kvs.Get(ctx, proofHashKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	return v, err
}

// IncrementRetry bumps the step's failure counter and returns the new count.
func (s *Store) IncrementRetry(ctx context.Context, id uuid.UUID) (int, error) {
	n, err := s.kvs.Incr(ctx, retryKey(id), s.ttl)
	return int(n), err
}

// ResetRetry zeroes the step's failure counter.
func (s *Store) ResetRetry(ctx context.Context, id uuid.UUID) error {
	return s.kvs.Set(ctx, retryKey(id), strconv.Itoa(0), s.ttl)
}

// GetRetry returns the current failure count.
func (s *Store) GetRetry(ctx context.Context, id uuid.UUID) (int, error) {
	v, err := s.kvs.Get(ctx, retryKey(id))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, nil
	}
	return n, nil
}
