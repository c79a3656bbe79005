// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine implements the seven protocol operations (search, begin,
// next, attest, mint, update, delete) on top of the memory store and the
// proof engine.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/kairos-ai/kairos/internal/chain"
	"github.com/kairos-ai/kairos/internal/config"
	"github.com/kairos-ai/kairos/internal/kairoserr"
	"github.com/kairos-ai/kairos/internal/kv"
	"github.com/kairos-ai/kairos/internal/logger"
	"github.com/kairos-ai/kairos/internal/memory"
	"github.com/kairos-ai/kairos/internal/proof"
	"github.com/kairos-ai/kairos/internal/uri"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetEngineLogger()
		log = &l
	})
	return log
}

// Event types broadcast to subscribers.
const (
	EventChainMinted      = "chain_minted"
	EventStepAttested     = "step_attested"
	EventCacheInvalidated = "cache_invalidated"
)

// EventSink receives engine lifecycle events for fan-out to subscribers.
// A nil sink disables events.
type EventSink interface {
	Broadcast(event string, data map[string]any)
}

const (
	searchLimit    = 10
	searchCacheKey = "search:"
	mimeMarkdown   = "text/markdown"
)

// Engine drives protocol runs. All methods are safe for concurrent use.
type Engine struct {
	mem    *memory.Store
	proofs *proof.Engine
	pstore *proof.Store
	kvs    kv.Store
	cfg    config.EngineConfig
	events EventSink
}

// New wires the execution engine. events may be nil.
func New(mem *memory.Store, proofs *proof.Engine, pstore *proof.Store, kvs kv.Store, cfg config.EngineConfig, events EventSink) *Engine {
	return &Engine{mem: mem, proofs: proofs, pstore: pstore, kvs: kvs, cfg: cfg, events: events}
}

func (e *Engine) emit(event string, data map[string]any) {
	if e.events != nil {
		e.events.Broadcast(event, data)
	}
}

// spaces resolves the caller's space to the allowed-spaces set.
func (e *Engine) spaces(space string) []string {
	if space == "" {
		space = e.cfg.DefaultSpace
	}
	return []string{space}
}

func elapsedMS(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// Search retrieves matching protocol heads and shapes them as a choice list.
// Responses are cached in the KV store keyed on the normalized query.
func (e *Engine) Search(ctx context.Context, query, space string) (*SearchResponse, error) {
	start := time.Now()

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, kairoserr.Invalid("query is required")
	}
	spaces := e.spaces(space)
	norm := strings.ToLower(trimmed)
	cacheKey := fmt.Sprintf("%s%s:%t:%s", searchCacheKey, spaces[0], e.cfg.GroupCollapse, norm)

	var cached SearchResponse
	if err := kv.GetJSON(ctx, e.kvs, cacheKey, &cached); err == nil {
		cached.Metadata = Metadata{DurationMS: elapsedMS(start), Cached: true}
		return &cached, nil
	}

	results, err := e.mem.Search(ctx, norm, searchLimit, spaces, e.cfg.GroupCollapse)
	if err != nil {
		return nil, err
	}

	var choices []Choice
	for _, r := range results {
		if r.Score < e.cfg.ScoreThreshold {
			continue
		}
		score := r.Score
		if score > 1 {
			score = 1
		}
		stepURI := uri.ForMemory(r.Step.UUID)
		choice := Choice{
			URI:        stepURI,
			Label:      r.Step.Label,
			Score:      &score,
			Role:       "match",
			Tags:       r.Step.Tags,
			NextAction: fmt.Sprintf("call kairos_begin with %s to execute this protocol", stepURI),
		}
		if r.Step.Chain != nil {
			choice.ChainLabel = r.Step.Chain.Label
		}
		choices = append(choices, choice)
	}
	matches := len(choices)

	// With exactly one confident match the agent should just run it;
	// otherwise offer the escape hatches.
	if matches != 1 {
		choices = append(choices,
			Choice{
				URI:        uri.SentinelRefineSearch,
				Label:      "Refine your search",
				Role:       "refine",
				NextAction: fmt.Sprintf("call kairos_begin with %s to refine your search", uri.SentinelRefineSearch),
			},
			Choice{
				URI:        uri.SentinelCreateNew,
				Label:      "Create a new protocol",
				Role:       "create",
				NextAction: fmt.Sprintf("call kairos_begin with %s to create a new protocol", uri.SentinelCreateNew),
			},
		)
	}

	message := fmt.Sprintf("Found %d stored protocol(s) matching %q.", matches, trimmed)
	if matches == 0 {
		message = fmt.Sprintf("No stored protocols match %q. Refine the search or create a new protocol.", trimmed)
	}

	resp := &SearchResponse{
		MustObey:   true,
		Message:    message,
		NextAction: "Pick one choice and follow that choice's next_action.",
		Choices:    choices,
	}
	if err := kv.SetJSON(ctx, e.kvs, cacheKey, resp, e.cfg.SearchCacheTTL); err != nil {
		getLog().Warn().Err(err).Msg("Failed to cache search response")
	}

	getLog().Debug().Str("query", norm).Int("matches", matches).Msg("Search served")
	resp.Metadata = Metadata{DurationMS: elapsedMS(start)}
	return resp, nil
}

// Begin starts (or restarts) a protocol run at the chain head. A mid-chain
// URI is redirected to step 1; the retry counter is cleared because a fresh
// run is never a retry.
func (e *Engine) Begin(ctx context.Context, rawURI, space string) (*StepResponse, error) {
	start := time.Now()

	id, err := uri.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	step, err := e.mem.Get(ctx, id, e.spaces(space))
	if err != nil {
		return nil, err
	}

	var message string
	if !step.IsHead() {
		first, err := e.mem.ChainFirst(ctx, step)
		if err != nil {
			return nil, err
		}
		if first.UUID != step.UUID {
			step = first
			message = "Redirected to step 1 of this protocol chain."
		}
	}

	if err := e.pstore.ResetRetry(ctx, step.UUID); err != nil {
		return nil, kairoserr.Transient("BEGIN", err)
	}

	challenge, err := e.proofs.BuildChallenge(ctx, step, proof.GenesisHash)
	if err != nil {
		return nil, err
	}

	next, err := e.mem.ChainNext(ctx, step)
	if err != nil {
		return nil, err
	}
	stepURI := uri.ForMemory(step.UUID)
	var nextAction string
	if next != nil {
		nextAction = fmt.Sprintf("call kairos_next with %s and a solution matching the challenge", uri.ForMemory(next.UUID))
	} else {
		nextAction = fmt.Sprintf("Run complete after this step: submit its solution with kairos_next, then call kairos_attest with %s", stepURI)
	}

	getLog().Info().Str("uri", stepURI).Msg("Run started")
	return &StepResponse{
		MustObey:    true,
		CurrentStep: &StepView{URI: stepURI, Content: step.Body(), MimeType: mimeMarkdown},
		Challenge:   challenge,
		NextAction:  nextAction,
		Message:     message,
		Metadata:    Metadata{DurationMS: elapsedMS(start)},
	}, nil
}

// Next validates the submitted solution for the addressed step. On success
// it advances to the following step (issuing its challenge) or declares the
// run complete; on an expected failure it returns the blocked payload.
func (e *Engine) Next(ctx context.Context, rawURI string, sol *proof.Solution, space string) (*NextResult, error) {
	start := time.Now()

	id, err := uri.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	step, err := e.mem.Get(ctx, id, e.spaces(space))
	if err != nil {
		return nil, err
	}

	expectedPrev, err := e.expectedPrevHash(ctx, step)
	if err != nil {
		return nil, err
	}

	var out *proof.Outcome
	if sol == nil {
		out, err = e.proofs.RejectMissingSolution(ctx, step, expectedPrev)
	} else {
		out, err = e.proofs.Validate(ctx, step, sol, expectedPrev)
	}
	if err != nil {
		return nil, kairoserr.Transient("NEXT", err)
	}
	if out.Blocked != nil {
		return &NextResult{Blocked: &BlockedResponse{
			Blocked:  *out.Blocked,
			Metadata: Metadata{DurationMS: elapsedMS(start)},
		}}, nil
	}

	nextStep, err := e.mem.ChainNext(ctx, step)
	if err != nil {
		return nil, err
	}

	if nextStep == nil {
		stepURI := uri.ForMemory(step.UUID)
		return &NextResult{Step: &StepResponse{
			MustObey:   true,
			Message:    "Run complete.",
			NextAction: fmt.Sprintf("call kairos_attest with %s and the run outcome (success or failure)", stepURI),
			ProofHash:  out.ProofHash,
			Metadata:   Metadata{DurationMS: elapsedMS(start)},
		}}, nil
	}

	challenge, err := e.proofs.BuildChallenge(ctx, nextStep, out.ProofHash)
	if err != nil {
		return nil, err
	}
	after, err := e.mem.ChainNext(ctx, nextStep)
	if err != nil {
		return nil, err
	}
	nextURI := uri.ForMemory(nextStep.UUID)
	var nextAction string
	if after != nil {
		nextAction = fmt.Sprintf("call kairos_next with %s and a solution matching the challenge", uri.ForMemory(after.UUID))
	} else {
		nextAction = fmt.Sprintf("complete this final step and submit its solution, then call kairos_attest with %s to record the outcome", nextURI)
	}

	return &NextResult{Step: &StepResponse{
		MustObey:    true,
		CurrentStep: &StepView{URI: nextURI, Content: nextStep.Body(), MimeType: mimeMarkdown},
		Challenge:   challenge,
		NextAction:  nextAction,
		ProofHash:   out.ProofHash,
		Metadata:    Metadata{DurationMS: elapsedMS(start)},
	}}, nil
}

// expectedPrevHash resolves the hash the solution for step must carry:
// genesis at the chain head, otherwise the previous step's stored hash
// (genesis again when that step was never proven, e.g. after KV expiry).
func (e *Engine) expectedPrevHash(ctx context.Context, step *memory.Step) (string, error) {
	if step.IsHead() {
		return proof.GenesisHash, nil
	}
	prev, err := e.mem.ChainPrevious(ctx, step)
	if err != nil {
		return "", err
	}
	if prev == nil {
		return proof.GenesisHash, nil
	}
	hash, err := e.pstore.GetProofHash(ctx, prev.UUID)
	if err != nil {
		return "", kairoserr.Transient("NEXT", err)
	}
	if hash == "" {
		return proof.GenesisHash, nil
	}
	return hash, nil
}

// Attest rates a finished run: updates the step's quality counters, asks the
// quality subsystem for the new score, and persists the result.
func (e *Engine) Attest(ctx context.Context, rawURI, outcome, message string, qualityBonus *float64, modelID, space string) (*AttestResponse, error) {
	start := time.Now()

	if outcome != "success" && outcome != "failure" {
		return nil, kairoserr.Invalid("outcome must be success or failure, got %q", outcome)
	}
	id, err := uri.Parse(rawURI)
	if err != nil {
		return nil, err
	}
	step, err := e.mem.Get(ctx, id, e.spaces(space))
	if err != nil {
		return nil, err
	}

	basic := 1.0
	if outcome == "failure" {
		basic = -0.2
	}
	total := basic + implementationBonus(step)
	if qualityBonus != nil {
		total += *qualityBonus
	}

	// Counters are bumped on a copy: step is shared with the store's cache,
	// and it must stay untouched unless the upsert below succeeds.
	now := memory.Now()
	q := &memory.Quality{}
	if step.Quality != nil {
		*q = *step.Quality
	}
	q.RetrievalCount++
	if outcome == "success" {
		q.SuccessCount++
	} else {
		q.FailureCount++
	}
	q.LastRated = now
	q.LastRater = modelID
	q.QualityBonus = total
	q.UsageContext = message
	q.StepQualityScore, q.StepQuality = scoreStep(q, step)

	updated := *step
	updated.Quality = q

	if err := e.mem.UpdateQuality(ctx, &updated); err != nil {
		return nil, err
	}

	stepURI := uri.ForMemory(step.UUID)
	e.emit(EventStepAttested, map[string]any{
		"uri":     stepURI,
		"outcome": outcome,
		"score":   q.StepQualityScore,
	})
	getLog().Info().Str("uri", stepURI).Str("outcome", outcome).Float64("bonus", total).Msg("Run attested")

	return &AttestResponse{
		Results: []AttestResult{{
			URI:          stepURI,
			Outcome:      outcome,
			QualityBonus: total,
			Message:      message,
			RatedAt:      now,
		}},
		TotalRated: 1,
		Metadata:   Metadata{DurationMS: elapsedMS(start)},
	}, nil
}

// Mint builds chains from a markdown document and stores them. Duplicate
// chains are rejected unless force is set, in which case the prior chain is
// replaced.
func (e *Engine) Mint(ctx context.Context, markdown, modelID string, force bool, space string) (*MintResponse, error) {
	start := time.Now()

	if strings.TrimSpace(markdown) == "" {
		return nil, kairoserr.Invalid("markdown_doc is required")
	}
	if space == "" {
		space = e.cfg.DefaultSpace
	}

	steps, err := chain.Build(markdown, modelID, space, memory.Now())
	if err != nil {
		return nil, err
	}
	stored, err := e.mem.StoreChain(ctx, steps, force)
	if err != nil {
		return nil, err
	}

	items := lo.Map(stored, func(st *memory.Step, _ int) MintItem {
		return MintItem{
			URI:        uri.ForMemory(st.UUID),
			MemoryUUID: st.UUID.String(),
			Label:      st.Label,
			Tags:       st.Tags,
		}
	})

	labels := lo.Uniq(lo.FilterMap(stored, func(st *memory.Step, _ int) (string, bool) {
		if st.Chain == nil {
			return "", false
		}
		return st.Chain.Label, true
	}))
	e.emit(EventChainMinted, map[string]any{"labels": labels, "steps": len(items)})
	getLog().Info().Strs("labels", labels).Int("steps", len(items)).Msg("Chain minted")

	return &MintResponse{
		Status:   "stored",
		Items:    items,
		Metadata: Metadata{DurationMS: elapsedMS(start)},
	}, nil
}

// Update applies per-URI updates: either a replacement markdown body per URI
// (aligned by index) or one field map applied to every URI.
func (e *Engine) Update(ctx context.Context, uris, docs []string, fields map[string]any, space string) (*UpdateResponse, error) {
	start := time.Now()

	if len(uris) == 0 {
		return nil, kairoserr.Invalid("uris is required")
	}
	if len(docs) > 0 && len(docs) != len(uris) {
		return nil, kairoserr.Invalid("markdown_doc count (%d) does not match uris count (%d)", len(docs), len(uris))
	}
	if len(docs) == 0 && len(fields) == 0 {
		return nil, kairoserr.Invalid("either markdown_doc or updates is required")
	}
	spaces := e.spaces(space)

	resp := &UpdateResponse{}
	for i, raw := range uris {
		result := OpResult{URI: raw, Status: "updated"}
		err := e.updateOne(ctx, raw, docs, i, fields, spaces)
		if err != nil {
			result.Status = "failed"
			result.Message = err.Error()
			resp.TotalFailed++
		} else {
			resp.TotalUpdated++
		}
		resp.Results = append(resp.Results, result)
	}

	e.emit(EventCacheInvalidated, map[string]any{"uris": uris})
	resp.Metadata = Metadata{DurationMS: elapsedMS(start)}
	return resp, nil
}

func (e *Engine) updateOne(ctx context.Context, raw string, docs []string, i int, fields map[string]any, spaces []string) error {
	if uri.IsSentinel(raw) {
		return kairoserr.Invalid("system memories cannot be updated")
	}
	id, err := uri.Parse(raw)
	if err != nil {
		return err
	}
	if len(docs) > 0 {
		return e.mem.UpdateText(ctx, id, docs[i], spaces)
	}
	return e.mem.UpdateFields(ctx, id, fields, spaces)
}

// Delete removes steps by URI. System memories are refused.
func (e *Engine) Delete(ctx context.Context, uris []string, space string) (*DeleteResponse, error) {
	start := time.Now()

	if len(uris) == 0 {
		return nil, kairoserr.Invalid("uris is required")
	}
	spaces := e.spaces(space)

	resp := &DeleteResponse{}
	for _, raw := range uris {
		result := OpResult{URI: raw, Status: "deleted"}
		err := e.deleteOne(ctx, raw, spaces)
		if err != nil {
			result.Status = "failed"
			result.Message = err.Error()
			resp.TotalFailed++
		} else {
			resp.TotalDeleted++
		}
		resp.Results = append(resp.Results, result)
	}

	e.emit(EventCacheInvalidated, map[string]any{"uris": uris})
	resp.Metadata = Metadata{DurationMS: elapsedMS(start)}
	return resp, nil
}

func (e *Engine) deleteOne(ctx context.Context, raw string, spaces []string) error {
	if uri.IsSentinel(raw) {
		return kairoserr.Invalid("system memories cannot be deleted")
	}
	id, err := uri.Parse(raw)
	if err != nil {
		return err
	}
	return e.mem.Delete(ctx, id, spaces)
}
