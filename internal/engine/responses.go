// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"time"

	"github.com/kairos-ai/kairos/internal/proof"
)

// Metadata is attached to every response.
type Metadata struct {
	DurationMS int64 `json:"duration_ms"`
	Cached     bool  `json:"cached,omitempty"`
}

// Choice is one option in a search response. Role is "match" for retrieved
// protocols, "refine" and "create" for the sentinel options.
type Choice struct {
	URI        string   `json:"uri"`
	Label      string   `json:"label"`
	ChainLabel string   `json:"chain_label,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	Role       string   `json:"role"`
	Tags       []string `json:"tags,omitempty"`
	NextAction string   `json:"next_action"`
}

// SearchResponse is the unified choice list returned by search.
type SearchResponse struct {
	MustObey   bool     `json:"must_obey"`
	Message    string   `json:"message"`
	NextAction string   `json:"next_action"`
	Choices    []Choice `json:"choices"`
	Metadata   Metadata `json:"metadata"`
}

// StepView is the current step presented to the agent.
type StepView struct {
	URI      string `json:"uri"`
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

// StepResponse is returned by begin and by a successful next. CurrentStep is
// nil when the run is complete. ProofHash carries the hash the agent must
// echo on the following submission.
type StepResponse struct {
	MustObey    bool             `json:"must_obey"`
	CurrentStep *StepView        `json:"current_step,omitempty"`
	Challenge   *proof.Challenge `json:"challenge,omitempty"`
	NextAction  string           `json:"next_action"`
	Message     string           `json:"message,omitempty"`
	ProofHash   string           `json:"proof_hash,omitempty"`
	Metadata    Metadata         `json:"metadata"`
}

// BlockedResponse wraps the proof engine's blocked payload with response
// metadata. The payload fields pass through verbatim.
type BlockedResponse struct {
	proof.Blocked
	Metadata Metadata `json:"metadata"`
}

// NextResult is the union returned by Next: exactly one of Step and Blocked
// is set.
type NextResult struct {
	Step    *StepResponse
	Blocked *BlockedResponse
}

// AttestResult is one rated step.
type AttestResult struct {
	URI          string    `json:"uri"`
	Outcome      string    `json:"outcome"`
	QualityBonus float64   `json:"quality_bonus"`
	Message      string    `json:"message"`
	RatedAt      time.Time `json:"rated_at"`
}

// AttestResponse envelopes attestation results.
type AttestResponse struct {
	Results     []AttestResult `json:"results"`
	TotalRated  int            `json:"total_rated"`
	TotalFailed int            `json:"total_failed"`
	Metadata    Metadata       `json:"metadata"`
}

// MintItem describes one stored step.
type MintItem struct {
	URI        string   `json:"uri"`
	MemoryUUID string   `json:"memory_uuid"`
	Label      string   `json:"label"`
	Tags       []string `json:"tags,omitempty"`
}

// MintResponse reports a successful mint.
type MintResponse struct {
	Status   string     `json:"status"`
	Items    []MintItem `json:"items"`
	Metadata Metadata   `json:"metadata"`
}

// OpResult is the per-URI outcome of a batch update or delete.
type OpResult struct {
	URI     string `json:"uri"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// UpdateResponse envelopes batch update results.
type UpdateResponse struct {
	Results      []OpResult `json:"results"`
	TotalUpdated int        `json:"total_updated"`
	TotalFailed  int        `json:"total_failed"`
	Metadata     Metadata   `json:"metadata"`
}

// DeleteResponse envelopes batch delete results.
type DeleteResponse struct {
	Results      []OpResult `json:"results"`
	TotalDeleted int        `json:"total_deleted"`
	TotalFailed  int        `json:"total_failed"`
	Metadata     Metadata   `json:"metadata"`
}
