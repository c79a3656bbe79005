// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package kairoserr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHelpers(t *testing.T) {
	t.Run("invalid", func(t *testing.T) {
		err := Invalid("bad field %q", "x")
		assert.Equal(t, CodeInvalidInput, CodeOf(err))
		assert.Equal(t, http.StatusBadRequest, StatusOf(err))
		assert.Contains(t, err.Error(), `bad field "x"`)
	})

	t.Run("not found", func(t *testing.T) {
		err := NotFound("memory %s", "abc")
		assert.Equal(t, CodeNotFound, CodeOf(err))
		assert.Equal(t, http.StatusNotFound, StatusOf(err))
	})

	t.Run("duplicate carries items", func(t *testing.T) {
		err := Duplicate("exists", []any{"a", "b"})
		assert.Equal(t, CodeDuplicateChain, CodeOf(err))
		assert.Equal(t, http.StatusConflict, StatusOf(err))
		assert.Len(t, err.Items, 2)
	})

	t.Run("transient wraps cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Transient("SEARCH", cause)
		assert.Equal(t, Code("SEARCH_FAILED"), CodeOf(err))
		assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
		assert.ErrorIs(t, err, cause)
	})
}

func TestIsMatchesOnCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", NotFound("gone"))
	assert.True(t, errors.Is(err, &Error{Code: CodeNotFound}))
	assert.False(t, errors.Is(err, &Error{Code: CodeDuplicateChain}))

	var target *Error
	require.ErrorAs(t, err, &target)
	assert.Equal(t, CodeNotFound, target.Code)
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}
