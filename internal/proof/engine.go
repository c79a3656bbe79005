// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package proof

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kairos-ai/kairos/internal/embedding"
	"github.com/kairos-ai/kairos/internal/kairoserr"
	"github.com/kairos-ai/kairos/internal/logger"
	"github.com/kairos-ai/kairos/internal/memory"
	"github.com/kairos-ai/kairos/internal/uri"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetProofLogger()
		log = &l
	})
	return log
}

// Body length below which the comment relevance check is skipped; very
// short step bodies carry no usable signal.
const minBodyForRelevance = 20

// Step bodies are truncated to this many characters before embedding for
// the relevance check.
const maxBodyEmbedLength = 8000

// Engine builds challenges and validates solutions.
type Engine struct {
	store             *Store
	emb               memory.Embedder
	maxRetries        int
	semanticThreshold float64
}

// NewEngine wires the proof engine.
func NewEngine(store *Store, emb memory.Embedder, maxRetries int, semanticThreshold float64) *Engine {
	return &Engine{
		store:             store,
		emb:               emb,
		maxRetries:        maxRetries,
		semanticThreshold: semanticThreshold,
	}
}

// Outcome is the result of validating a solution. Exactly one of the two
// branches is populated: Accepted+ProofHash on success, Blocked on an
// expected rejection. Infrastructure failures surface as ordinary errors.
type Outcome struct {
	Accepted  bool
	ProofHash string
	Blocked   *Blocked
}

// Blocked is the response payload for a rejected submission. It is returned
// to the client verbatim.
type Blocked struct {
	MustObey   bool       `json:"must_obey"`
	ErrorCode  string     `json:"error_code"`
	Message    string     `json:"message"`
	RetryCount int        `json:"retry_count"`
	Challenge  *Challenge `json:"challenge,omitempty"`
	NextAction string     `json:"next_action"`
}

// EffectiveDef returns the step's proof definition, or the implicit
// unrequired confirmation for steps minted without one (trailing wrap-up
// steps).
func EffectiveDef(step *memory.Step) *memory.ProofDef {
	if step.ProofDef != nil {
		return step.ProofDef
	}
	return &memory.ProofDef{
		Type:      memory.ProofUserInput,
		Required:  false,
		UserInput: &memory.UserInputProofDef{Prompt: "Confirm you have read this step."},
	}
}

// BuildChallenge issues a fresh challenge for a step. A new nonce is
// generated and stored; expectedPrevHash is the hash the next solution must
// carry (GenesisHash for step 1).
func (e *Engine) BuildChallenge(ctx context.Context, step *memory.Step, expectedPrevHash string) (*Challenge, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}
	if err := e.store.SetNonce(ctx, step.UUID, nonce); err != nil {
		return nil, fmt.Errorf("store nonce: %w", err)
	}

	def := EffectiveDef(step)
	ch := &Challenge{
		Type:      def.Type,
		Nonce:     nonce,
		ProofHash: expectedPrevHash,
	}

	switch def.Type {
	case memory.ProofShell:
		ch.Shell = def.Shell
		ch.Description = fmt.Sprintf("Run `%s` and report its exit code.", def.Shell.Cmd)
	case memory.ProofMCP:
		ch.MCP = def.MCP
		ch.Description = fmt.Sprintf("Call the %s tool and report the result.", def.MCP.ToolName)
	case memory.ProofUserInput:
		ch.UserInput = def.UserInput
		if def.UserInput != nil && def.UserInput.Prompt != "" {
			ch.Description = def.UserInput.Prompt
		} else {
			ch.Description = "Obtain the user's confirmation for this step."
		}
	case memory.ProofComment:
		ch.Comment = def.Comment
		ch.Description = fmt.Sprintf("Describe how you completed this step (at least %d characters).", def.Comment.MinLength)
	default:
		return nil, kairoserr.Invalid("unknown proof type %q on step %s", def.Type, step.UUID)
	}

	return ch, nil
}

// Validate checks a solution against the step's stored nonce, the expected
// predecessor hash, and the proof definition. Expected rejections come back
// as a Blocked outcome shaped for the client; only infrastructure failures
// return an error.
func (e *Engine) Validate(ctx context.Context, step *memory.Step, sol *Solution, expectedPrevHash string) (*Outcome, error) {
	def := EffectiveDef(step)

	// 1. Nonce.
	storedNonce, err := e.store.GetNonce(ctx, step.UUID)
	if err != nil {
		return nil, fmt.Errorf("load nonce: %w", err)
	}
	if sol.Nonce == "" || sol.Nonce != storedNonce {
		return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeNonceMismatch,
			"solution nonce does not match the issued challenge")
	}

	// 2. Predecessor hash.
	carried := sol.CarriedHash()
	if carried == "" {
		return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeMissingField,
			"solution is missing proof_hash")
	}
	if carried != expectedPrevHash {
		return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeProofHashMismatch,
			"solution proof_hash does not match the previous step's proof")
	}

	// 3. Type.
	if sol.Type != def.Type {
		return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeTypeMismatch,
			fmt.Sprintf("expected a %s proof, got %q", def.Type, sol.Type))
	}

	// 4. Type-specific content.
	rec := &Record{
		ResultID:   uuid.New().String(),
		Type:       def.Type,
		ExecutedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if out, err := e.fillRecord(ctx, step, def, sol, rec, expectedPrevHash); out != nil || err != nil {
		return out, err
	}

	// 5. Required proofs must succeed.
	if def.Required && rec.Status == StatusFailed {
		return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeCommandFailed,
			"required proof reported failure")
	}

	return e.accept(ctx, step, rec)
}

// fillRecord validates the type-specific block and populates the record.
// Returns a non-nil Outcome when the submission is rejected.
func (e *Engine) fillRecord(ctx context.Context, step *memory.Step, def *memory.ProofDef, sol *Solution, rec *Record, expectedPrevHash string) (*Outcome, error) {
	switch def.Type {
	case memory.ProofShell:
		if sol.Shell == nil || sol.Shell.ExitCode == nil {
			return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeMissingField,
				"shell proof requires shell.exit_code")
		}
		rec.Shell = &ShellResult{
			ExitCode:        *sol.Shell.ExitCode,
			Stdout:          sol.Shell.Stdout,
			Stderr:          sol.Shell.Stderr,
			DurationSeconds: sol.Shell.DurationSeconds,
		}
		if *sol.Shell.ExitCode == 0 {
			rec.Status = StatusSuccess
		} else {
			rec.Status = StatusFailed
		}

	case memory.ProofMCP:
		if sol.MCP == nil {
			return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeMissingField,
				"mcp proof requires the mcp block")
		}
		rec.MCP = &MCPResult{ToolName: sol.MCP.ToolName, Result: sol.MCP.Result, Success: sol.MCP.Success}
		if sol.MCP.Success {
			rec.Status = StatusSuccess
		} else {
			rec.Status = StatusFailed
		}

	case memory.ProofUserInput:
		if sol.UserInput == nil || sol.UserInput.Confirmation == "" {
			return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeMissingField,
				"user_input proof requires user_input.confirmation")
		}
		rec.UserInput = &UserInputResult{Confirmation: sol.UserInput.Confirmation, Timestamp: sol.UserInput.Timestamp}
		rec.Status = StatusSuccess

	case memory.ProofComment:
		if sol.Comment == nil || sol.Comment.Text == "" {
			return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeMissingField,
				"comment proof requires comment.text")
		}
		minLen := memory.DefaultCommentMinLength
		if def.Comment != nil && def.Comment.MinLength > 0 {
			minLen = def.Comment.MinLength
		}
		if len(sol.Comment.Text) < minLen {
			return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeCommentTooShort,
				fmt.Sprintf("comment must be at least %d characters", minLen))
		}
		if blocked, err := e.checkCommentRelevance(ctx, step, sol.Comment.Text, expectedPrevHash); blocked != nil || err != nil {
			return blocked, err
		}
		rec.Comment = &CommentResult{Text: sol.Comment.Text}
		rec.Status = StatusSuccess

	default:
		return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeTypeMismatch,
			fmt.Sprintf("unsupported proof type %q", def.Type))
	}
	return nil, nil
}

// checkCommentRelevance compares comment and step body embeddings. The
// check fails open: when the embedding backend is down a length-valid
// comment is accepted.
func (e *Engine) checkCommentRelevance(ctx context.Context, step *memory.Step, comment, expectedPrevHash string) (*Outcome, error) {
	body := truncateForEmbed(step.Body(), maxBodyEmbedLength)
	if len(body) < minBodyForRelevance {
		return nil, nil
	}

	vecs, err := e.emb.EmbedBatch(ctx, []string{comment, body})
	if err != nil {
		getLog().Warn().Err(err).Str("uuid", step.UUID.String()).
			Msg("Embedding unavailable; accepting comment without relevance check")
		return nil, nil
	}

	sim := embedding.Cosine(vecs[0], vecs[1])
	if sim < e.semanticThreshold {
		getLog().Debug().Float64("similarity", sim).Str("uuid", step.UUID.String()).Msg("Comment rejected as irrelevant")
		return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeCommentIrrelevant,
			"comment does not appear to describe this step")
	}
	return nil, nil
}

// truncateForEmbed caps s at max characters, never splitting a rune: the
// embedding service must receive valid UTF-8.
func truncateForEmbed(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// accept records the proof, advances the hash chain, and clears the retry
// state. A fresh submission after an already-recorded success returns the
// existing hash without re-saving, so quality is never double-counted.
func (e *Engine) accept(ctx context.Context, step *memory.Step, rec *Record) (*Outcome, error) {
	existing, err := e.store.GetResult(ctx, step.UUID)
	if err != nil {
		return nil, fmt.Errorf("load existing result: %w", err)
	}
	if existing != nil && existing.Status == StatusSuccess {
		hash, err := e.store.GetProofHash(ctx, step.UUID)
		if err != nil {
			return nil, fmt.Errorf("load existing hash: %w", err)
		}
		if hash != "" {
			if _, err := e.store.ConsumeNonce(ctx, step.UUID); err != nil {
				return nil, err
			}
			if err := e.store.ResetRetry(ctx, step.UUID); err != nil {
				return nil, err
			}
			return &Outcome{Accepted: true, ProofHash: hash}, nil
		}
	}

	hash, err := HashRecord(rec)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveResult(ctx, step.UUID, rec); err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}
	if err := e.store.SetProofHash(ctx, step.UUID, hash); err != nil {
		return nil, fmt.Errorf("save proof hash: %w", err)
	}
	if err := e.store.ResetRetry(ctx, step.UUID); err != nil {
		return nil, fmt.Errorf("reset retry: %w", err)
	}
	if _, err := e.store.ConsumeNonce(ctx, step.UUID); err != nil {
		return nil, fmt.Errorf("consume nonce: %w", err)
	}

	getLog().Info().Str("uuid", step.UUID.String()).Str("status", rec.Status).Msg("Proof accepted")
	return &Outcome{Accepted: true, ProofHash: hash}, nil
}

// RejectMissingSolution shapes the blocked response for a next call that
// arrived without a solution attached.
func (e *Engine) RejectMissingSolution(ctx context.Context, step *memory.Step, expectedPrevHash string) (*Outcome, error) {
	return e.reject(ctx, step, expectedPrevHash, kairoserr.CodeMissingField, "solution is required")
}

// reject bumps the retry counter and shapes the blocked payload. Within the
// retry budget the agent is ordered to retry against a fresh challenge;
// past it, control is handed back with recovery options.
func (e *Engine) reject(ctx context.Context, step *memory.Step, expectedPrevHash string, code kairoserr.Code, message string) (*Outcome, error) {
	retries, err := e.store.IncrementRetry(ctx, step.UUID)
	if err != nil {
		return nil, fmt.Errorf("increment retry: %w", err)
	}

	stepURI := uri.ForMemory(step.UUID)

	if retries > e.maxRetries {
		getLog().Warn().Str("uuid", step.UUID.String()).Int("retries", retries).Msg("Max retries exceeded")
		return &Outcome{Blocked: &Blocked{
			MustObey:   false,
			ErrorCode:  string(kairoserr.CodeMaxRetriesExceeded),
			Message:    fmt.Sprintf("step failed %d times: %s", retries, message),
			RetryCount: retries,
			NextAction: fmt.Sprintf(
				"You may now act autonomously. Options: (1) update this step with kairos_update %s if it is wrong, (2) attest the run as a failure with kairos_attest %s, or (3) ask a human for help.",
				stepURI, stepURI),
		}}, nil
	}

	challenge, err := e.BuildChallenge(ctx, step, expectedPrevHash)
	if err != nil {
		return nil, err
	}

	getLog().Debug().Str("uuid", step.UUID.String()).Str("code", string(code)).Int("retry", retries).Msg("Proof rejected")
	return &Outcome{Blocked: &Blocked{
		MustObey:   true,
		ErrorCode:  string(code),
		Message:    message,
		RetryCount: retries,
		Challenge:  challenge,
		NextAction: fmt.Sprintf("retry kairos_next with %s -- use nonce and proof_hash from THIS response's challenge", stepURI),
	}}, nil
}
