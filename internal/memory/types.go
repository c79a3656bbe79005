// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package memory stores protocol steps in the vector store and implements
// search, mint, update, delete and chain-neighbor resolution on top of it.
package memory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChainNamespace is the UUIDv5 namespace for deterministic chain ids.
// The bytes spell "KAIROS_CHAIN_NS!".
var ChainNamespace = uuid.MustParse("4b414952-4f53-5f43-4841-494e5f4e5321")

// Body markers. Step text may be wrapped as HEADER / BODY-START body BODY-END
// / FOOTER; updates that carry markers replace only the BODY region.
const (
	BodyStartMarker = "KAIROS:BODY-START"
	BodyEndMarker   = "KAIROS:BODY-END"
)

// DefaultSpace is the space steps are minted into when none is given.
const DefaultSpace = "public"

// Proof types.
const (
	ProofShell     = "shell"
	ProofMCP       = "mcp"
	ProofUserInput = "user_input"
	ProofComment   = "comment"
)

// DefaultCommentMinLength applies when a comment proof gives no min_length.
const DefaultCommentMinLength = 10

// ChainRef places a step inside its chain. StepIndex is 1-based.
type ChainRef struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	StepIndex int    `json:"step_index"`
	StepCount int    `json:"step_count"`
}

// ProofDef describes how a step must be proven. Type selects which of the
// typed blocks is set.
type ProofDef struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`

	Shell     *ShellProofDef     `json:"shell,omitempty"`
	MCP       *MCPProofDef       `json:"mcp,omitempty"`
	UserInput *UserInputProofDef `json:"user_input,omitempty"`
	Comment   *CommentProofDef   `json:"comment,omitempty"`
}

// ShellProofDef requires running a command and reporting its exit code.
type ShellProofDef struct {
	Cmd            string `json:"cmd"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// MCPProofDef requires calling an MCP tool.
type MCPProofDef struct {
	ToolName       string `json:"tool_name"`
	ExpectedResult any    `json:"expected_result,omitempty"`
}

// UserInputProofDef requires a human confirmation.
type UserInputProofDef struct {
	Prompt string `json:"prompt,omitempty"`
}

// CommentProofDef requires a free-text comment of a minimum length.
type CommentProofDef struct {
	MinLength int `json:"min_length"`
}

// Quality carries the rating state of a step.
type Quality struct {
	StepQualityScore float64   `json:"step_quality_score"`
	StepQuality      string    `json:"step_quality"`
	RetrievalCount   int       `json:"retrieval_count"`
	SuccessCount     int       `json:"success_count"`
	FailureCount     int       `json:"failure_count"`
	LastRated        time.Time `json:"last_rated,omitempty"`
	LastRater        string    `json:"last_rater,omitempty"`
	QualityBonus     float64   `json:"quality_bonus"`
	UsageContext     string    `json:"usage_context,omitempty"`
}

// Step is one executable unit of a protocol chain. It is the unit stored as
// a vector-store point and addressed by kairos://mem/<uuid>.
type Step struct {
	UUID          uuid.UUID `json:"uuid"`
	Label         string    `json:"label"`
	Tags          []string  `json:"tags"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
	AuthorModelID string    `json:"llm_model_id"`
	SpaceID       string    `json:"space_id"`
	Task          string    `json:"task,omitempty"`
	Type          string    `json:"type,omitempty"`

	Chain    *ChainRef `json:"chain,omitempty"`
	ProofDef *ProofDef `json:"proof_of_work,omitempty"`
	Quality  *Quality  `json:"quality,omitempty"`

	// Extensions preserves unknown payload keys found on read so that
	// re-upserting a step never silently drops data written by newer code.
	Extensions map[string]any `json:"-"`
}

// Body returns the BODY region of the step text when markers are present,
// otherwise the whole text.
func (s *Step) Body() string {
	return ExtractBody(s.Text)
}

// IsHead reports whether the step is the first of its chain. Steps without a
// chain reference count as heads.
func (s *Step) IsHead() bool {
	return s.Chain == nil || s.Chain.StepIndex == 1
}

// ExtractBody returns the text between the BODY markers, or text unchanged
// when either marker is missing.
func ExtractBody(text string) string {
	start := strings.Index(text, BodyStartMarker)
	if start < 0 {
		return text
	}
	rest := text[start+len(BodyStartMarker):]
	end := strings.Index(rest, BodyEndMarker)
	if end < 0 {
		return text
	}
	return strings.TrimSpace(rest[:end])
}

// NormalizeLabel lowercases a chain label and collapses runs of whitespace
// to single spaces. Chain identity is derived from the normalized form.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// ChainID computes the deterministic chain id for a label. Two labels that
// differ only in case or whitespace map to the same chain.
func ChainID(label string) uuid.UUID {
	return uuid.NewSHA1(ChainNamespace, []byte(NormalizeLabel(label)))
}
