// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package proof

import (
	"github.com/kairos-ai/kairos/internal/memory"
)

// Record statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Record is the persisted outcome of one accepted (or required-optional
// failed) submission. Its canonical hash forms the proof chain.
type Record struct {
	ResultID   string `json:"result_id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	ExecutedAt string `json:"executed_at"`

	Shell     *ShellResult     `json:"shell,omitempty"`
	MCP       *MCPResult       `json:"mcp,omitempty"`
	UserInput *UserInputResult `json:"user_input,omitempty"`
	Comment   *CommentResult   `json:"comment,omitempty"`
}

// ShellResult captures a reported command execution.
type ShellResult struct {
	ExitCode        int     `json:"exit_code"`
	Stdout          string  `json:"stdout,omitempty"`
	Stderr          string  `json:"stderr,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// MCPResult captures a reported MCP tool call.
type MCPResult struct {
	ToolName string `json:"tool_name"`
	Result   any    `json:"result,omitempty"`
	Success  bool   `json:"success"`
}

// UserInputResult captures a human confirmation.
type UserInputResult struct {
	Confirmation string `json:"confirmation"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// CommentResult captures a free-text proof.
type CommentResult struct {
	Text string `json:"text"`
}

// Challenge is the server-issued record prescribing how to prove a step.
// The typed block mirrors the step's proof definition.
type Challenge struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Nonce       string `json:"nonce"`
	ProofHash   string `json:"proof_hash"`

	Shell     *memory.ShellProofDef     `json:"shell,omitempty"`
	MCP       *memory.MCPProofDef       `json:"mcp,omitempty"`
	UserInput *memory.UserInputProofDef `json:"user_input,omitempty"`
	Comment   *memory.CommentProofDef   `json:"comment,omitempty"`
}

// Solution is the client-submitted proof for a step.
type Solution struct {
	Type      string `json:"type"`
	Nonce     string `json:"nonce"`
	ProofHash string `json:"proof_hash"`
	// PreviousProofHash is the deprecated spelling of ProofHash, still
	// accepted from older clients.
	PreviousProofHash string `json:"previousProofHash,omitempty"`

	Shell     *ShellSolution     `json:"shell,omitempty"`
	MCP       *MCPSolution       `json:"mcp,omitempty"`
	UserInput *UserInputSolution `json:"user_input,omitempty"`
	Comment   *CommentSolution   `json:"comment,omitempty"`
}

// CarriedHash returns the predecessor hash the solution claims, preferring
// the current field name over the deprecated one.
func (s *Solution) CarriedHash() string {
	if s.ProofHash != "" {
		return s.ProofHash
	}
	return s.PreviousProofHash
}

// ShellSolution reports a command run. ExitCode is a pointer so that a
// missing field is distinguishable from exit code 0.
type ShellSolution struct {
	ExitCode        *int    `json:"exit_code"`
	Stdout          string  `json:"stdout,omitempty"`
	Stderr          string  `json:"stderr,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// MCPSolution reports an MCP tool call.
type MCPSolution struct {
	ToolName  string `json:"tool_name"`
	Arguments any    `json:"arguments,omitempty"`
	Result    any    `json:"result,omitempty"`
	Success   bool   `json:"success"`
}

// UserInputSolution reports a human confirmation.
type UserInputSolution struct {
	Confirmation string `json:"confirmation"`
	Timestamp    string `json:"timestamp,omitempty"`
}

// CommentSolution reports a free-text proof.
type CommentSolution struct {
	Text string `json:"text"`
}
