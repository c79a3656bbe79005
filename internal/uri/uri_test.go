// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package uri

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairos-ai/kairos/internal/kairoserr"
)

func TestForMemoryParseRoundTrip(t *testing.T) {
	id := uuid.New()
	raw := ForMemory(id)
	assert.Equal(t, "kairos://mem/"+id.String(), raw)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"kairos://mem/",
		"kairos://mem/not-a-uuid",
		"https://example.com/x",
		"kairos://other/" + uuid.New().String(),
	} {
		_, err := Parse(raw)
		require.Error(t, err, raw)
		assert.Equal(t, kairoserr.CodeInvalidInput, kairoserr.CodeOf(err))
	}
}

func TestParseTrimsWhitespace(t *testing.T) {
	id := uuid.New()
	parsed, err := Parse("  " + ForMemory(id) + "\n")
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, IsSentinel(SentinelCreateNew))
	assert.True(t, IsSentinel(" "+SentinelRefineSearch))
	assert.False(t, IsSentinel(ForMemory(uuid.New())))
}
