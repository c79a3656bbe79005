// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kairos-ai/kairos/internal/config"
)

func TestStaticLoggerGetters(t *testing.T) {
	cfg := &config.LogConfig{
		Level:  "info",
		Format: "json",
		Output: []config.LogOutputConfig{
			{Type: "console", Enabled: true},
		},
		Levels: map[string]string{
			"engine": "debug",
			"memory": "trace",
			"proof":  "info",
			"vector": "info",
			"kv":     "warn",
			"api":    "warn",
		},
	}

	require.NoError(t, Initialize(cfg))
	defer CloseGlobal()

	tests := []struct {
		name          string
		getterFunc    func() zerolog.Logger
		expectedLevel zerolog.Level
	}{
		{"engine_logger", GetEngineLogger, zerolog.DebugLevel},
		{"memory_logger", GetMemoryLogger, zerolog.TraceLevel},
		{"proof_logger", GetProofLogger, zerolog.InfoLevel},
		{"vector_logger", GetVectorLogger, zerolog.InfoLevel},
		{"kv_logger", GetKVLogger, zerolog.WarnLevel},
		{"api_logger", GetAPILogger, zerolog.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expectedLevel, tt.getterFunc().GetLevel())
		})
	}
}
