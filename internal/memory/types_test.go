// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Build and Test", "build and test"},
		{"  build AND test ", "build and test"},
		{"Build\tand\n Test", "build and test"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeLabel(tt.in))
	}
}

func TestChainIDDeterminism(t *testing.T) {
	a := ChainID("Build and Test")
	b := ChainID("  build AND test ")
	c := ChainID("build and tests")

	assert.Equal(t, a, b, "labels differing only in case/whitespace share a chain id")
	assert.NotEqual(t, a, c)
}

func TestExtractBody(t *testing.T) {
	t.Run("with markers", func(t *testing.T) {
		text := "HEADER\n" + BodyStartMarker + "\nthe body\n" + BodyEndMarker + "\nFOOTER"
		assert.Equal(t, "the body", ExtractBody(text))
	})

	t.Run("no markers", func(t *testing.T) {
		assert.Equal(t, "plain text", ExtractBody("plain text"))
	})

	t.Run("unterminated", func(t *testing.T) {
		text := BodyStartMarker + "\ndangling"
		assert.Equal(t, text, ExtractBody(text))
	})
}

func TestIsHead(t *testing.T) {
	assert.True(t, (&Step{}).IsHead())
	assert.True(t, (&Step{Chain: &ChainRef{StepIndex: 1}}).IsHead())
	assert.False(t, (&Step{Chain: &ChainRef{StepIndex: 2}}).IsHead())
}
