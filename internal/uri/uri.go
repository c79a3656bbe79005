// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package uri handles the kairos://mem/<uuid> identity scheme.
package uri

import (
	"strings"

	"github.com/google/uuid"

	"github.com/kairos-ai/kairos/internal/kairoserr"
)

const memPrefix = "kairos://mem/"

// Sentinel URIs are reserved and never mintable. They identify the built-in
// system protocols seeded at startup.
const (
	SentinelCreateNew    = "kairos://mem/00000000-0000-0000-0000-000000002001"
	SentinelRefineSearch = "kairos://mem/00000000-0000-0000-0000-000000002002"
)

// ForMemory formats the URI for a step uuid.
func ForMemory(id uuid.UUID) string {
	return memPrefix + id.String()
}

// Parse extracts the step uuid from a kairos://mem/ URI.
func Parse(raw string) (uuid.UUID, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, memPrefix) {
		return uuid.Nil, kairoserr.Invalid("not a kairos memory URI: %q", raw)
	}
	id, err := uuid.Parse(strings.TrimPrefix(trimmed, memPrefix))
	if err != nil {
		return uuid.Nil, kairoserr.Invalid("malformed uuid in URI %q", raw)
	}
	return id, nil
}

// IsSentinel reports whether raw is one of the reserved system URIs.
func IsSentinel(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	return trimmed == SentinelCreateNew || trimmed == SentinelRefineSearch
}
