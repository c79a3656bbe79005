// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package proof implements the per-step proof-of-work discipline: nonce
// issuance, solution validation, and the hash chain linking consecutive
// steps of a protocol run.
package proof

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// GenesisHash is the predecessor hash for step 1 of every chain:
// hex(SHA-256("genesis")).
var GenesisHash = func() string {
	sum := sha256.Sum256([]byte("genesis"))
	return hex.EncodeToString(sum[:])
}()

// HashRecord computes the canonical proof hash of a record: SHA-256 over
// key-sorted JSON. Field order in the struct (or in a client's JSON) must
// never change the hash, so the record is round-tripped through a map —
// encoding/json emits map keys sorted.
func HashRecord(rec *Record) (string, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal proof record: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("canonicalize proof record: %w", err)
	}
	canonical, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("canonicalize proof record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// NewNonce returns a fresh 16-byte hex nonce (32 hex chars).
func NewNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
