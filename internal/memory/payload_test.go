// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	id := uuid.New()
	created := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	step := &Step{
		UUID:          id,
		Label:         "Run the build",
		Tags:          []string{"make", "build"},
		Text:          "Run make in the repository root.",
		CreatedAt:     created,
		AuthorModelID: "test-model",
		SpaceID:       "public",
		Type:          "protocol_step",
		Chain: &ChainRef{
			ID:        ChainID("Build and Test").String(),
			Label:     "Build and Test",
			StepIndex: 1,
			StepCount: 2,
		},
		ProofDef: &ProofDef{
			Type:     ProofShell,
			Required: true,
			Shell:    &ShellProofDef{Cmd: "make", TimeoutSeconds: 60},
		},
		Quality: &Quality{StepQualityScore: 0.7, StepQuality: "good", SuccessCount: 3},
	}

	got, err := FromPayload(id.String(), ToPayload(step))
	require.NoError(t, err)

	assert.Equal(t, step.Label, got.Label)
	assert.Equal(t, step.Tags, got.Tags)
	assert.Equal(t, step.Text, got.Text)
	assert.Equal(t, step.AuthorModelID, got.AuthorModelID)
	assert.True(t, step.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, step.Chain, got.Chain)
	assert.Equal(t, step.ProofDef, got.ProofDef)
	assert.Equal(t, 0.7, got.Quality.StepQualityScore)
	assert.Equal(t, 3, got.Quality.SuccessCount)
}

func TestPayloadCommentDefaultMinLength(t *testing.T) {
	id := uuid.New()
	payload := map[string]any{
		"label": "Step",
		"text":  "body",
		"proof_of_work": map[string]any{
			"type":     ProofComment,
			"required": true,
			"comment":  map[string]any{},
		},
	}
	got, err := FromPayload(id.String(), payload)
	require.NoError(t, err)
	require.NotNil(t, got.ProofDef.Comment)
	assert.Equal(t, DefaultCommentMinLength, got.ProofDef.Comment.MinLength)
}

func TestPayloadJSONNumbers(t *testing.T) {
	// Payloads read back from the vector store carry float64 for every
	// number; the decoder must tolerate that.
	id := uuid.New()
	payload := map[string]any{
		"label": "Step",
		"chain": map[string]any{
			"id":         "c1",
			"label":      "Chain",
			"step_index": float64(2),
			"step_count": float64(3),
		},
		"quality_metrics": map[string]any{
			"retrieval_count": float64(7),
			"quality_bonus":   1.2,
		},
	}
	got, err := FromPayload(id.String(), payload)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Chain.StepIndex)
	assert.Equal(t, 3, got.Chain.StepCount)
	assert.Equal(t, 7, got.Quality.RetrievalCount)
	assert.Equal(t, 1.2, got.Quality.QualityBonus)
}

func TestPayloadUnknownKeysPreserved(t *testing.T) {
	id := uuid.New()
	payload := map[string]any{
		"label":      "Step",
		"text":       "body",
		"novel_flag": true,
	}
	got, err := FromPayload(id.String(), payload)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"novel_flag": true}, got.Extensions)

	back := ToPayload(got)
	assert.Equal(t, true, back["novel_flag"])
}

func TestPayloadMissingSpaceDefaults(t *testing.T) {
	id := uuid.New()
	got, err := FromPayload(id.String(), map[string]any{"label": "Step"})
	require.NoError(t, err)
	assert.Equal(t, DefaultSpace, got.SpaceID)
}
