// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package proof

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenesisHash(t *testing.T) {
	// hex(SHA-256("genesis")), pinned so the wire contract never drifts.
	assert.Equal(t, "aeebad4a796fcc2e15dc4c6061b45ed9b373f26adfc798ca7d2d8cc58182718e", GenesisHash)
	assert.Len(t, GenesisHash, 64)
}

func TestHashRecord(t *testing.T) {
	rec := &Record{
		ResultID:   "r-1",
		Type:       "shell",
		Status:     StatusSuccess,
		ExecutedAt: "2026-08-25T10:00:00Z",
		Shell:      &ShellResult{ExitCode: 0, Stdout: "ok"},
	}

	t.Run("deterministic", func(t *testing.T) {
		h1, err := HashRecord(rec)
		require.NoError(t, err)
		h2, err := HashRecord(rec)
		require.NoError(t, err)
		assert.Equal(t, h1, h2)
		assert.Len(t, h1, 64)
	})

	t.Run("content sensitive", func(t *testing.T) {
		h1, err := HashRecord(rec)
		require.NoError(t, err)

		other := *rec
		other.Status = StatusFailed
		h2, err := HashRecord(&other)
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("equal content equal hash", func(t *testing.T) {
		a := &Record{ResultID: "x", Type: "comment", Status: StatusSuccess, ExecutedAt: "2026-01-01T00:00:00Z", Comment: &CommentResult{Text: "done"}}
		b := &Record{ExecutedAt: "2026-01-01T00:00:00Z", Comment: &CommentResult{Text: "done"}, Status: StatusSuccess, Type: "comment", ResultID: "x"}
		ha, err := HashRecord(a)
		require.NoError(t, err)
		hb, err := HashRecord(b)
		require.NoError(t, err)
		assert.Equal(t, ha, hb)
	})
}

func TestNewNonce(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		n, err := NewNonce()
		require.NoError(t, err)
		assert.Len(t, n, 32)
		assert.False(t, seen[n], "nonce repeated")
		seen[n] = true
	}
}
