// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to config.yaml log.levels
// These ensure consistent logger names across the codebase

// GetEngineLogger returns a logger for the protocol execution engine
func GetEngineLogger() zerolog.Logger {
	return GetLogger("engine")
}

// GetMemoryLogger returns a logger for the memory store
func GetMemoryLogger() zerolog.Logger {
	return GetLogger("memory")
}

// GetProofLogger returns a logger for proof engine operations
func GetProofLogger() zerolog.Logger {
	return GetLogger("proof")
}

// GetVectorLogger returns a logger for vector store operations
func GetVectorLogger() zerolog.Logger {
	return GetLogger("vector")
}

// GetKVLogger returns a logger for KV store operations
func GetKVLogger() zerolog.Logger {
	return GetLogger("kv")
}

// GetAPILogger returns a logger for API operations
func GetAPILogger() zerolog.Logger {
	return GetLogger("api")
}
