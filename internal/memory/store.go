// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/kairos-ai/kairos/internal/kairoserr"
	"github.com/kairos-ai/kairos/internal/kv"
	"github.com/kairos-ai/kairos/internal/logger"
	"github.com/kairos-ai/kairos/internal/uri"
	"github.com/kairos-ai/kairos/internal/vectorstore"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetMemoryLogger()
		log = &l
	})
	return log
}

// InvalidationChannel carries step uuids whose cached payloads must be
// dropped, so peer processes stay coherent.
const InvalidationChannel = "invalidate"

const (
	stepCacheSize      = 512
	maxVectorCandidates = 200
	keywordScrollLimit = 500
	keywordNeutralScore = 0.5
	qualityBoostWeight = 0.1
	chainScrollLimit   = 1000
)

// VectorStore is the narrow surface the memory store needs from the vector
// database.
type VectorStore interface {
	Upsert(ctx context.Context, points []vectorstore.Point) error
	Search(ctx context.Context, vector []float32, limit int, filter vectorstore.Filter) ([]vectorstore.ScoredPoint, error)
	Scroll(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Point, error)
	Retrieve(ctx context.Context, ids []string) ([]vectorstore.Point, error)
	Delete(ctx context.Context, ids []string) error
}

// Embedder produces fixed-dimension vectors for texts.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// ScoredStep pairs a step with its search score.
type ScoredStep struct {
	Step  *Step
	Score float64
}

// Store implements chain and step persistence over the vector store, with a
// small LRU payload cache kept coherent through KV pub/sub.
type Store struct {
	vs    VectorStore
	emb   Embedder
	kvs   kv.Store
	cache *lru.Cache[string, *Step]
}

// NewStore wires the memory store. kvs may be nil in tests; invalidation
// publishing then becomes a no-op.
func NewStore(vs VectorStore, emb Embedder, kvs kv.Store) (*Store, error) {
	cache, err := lru.New[string, *Step](stepCacheSize)
	if err != nil {
		return nil, err
	}
	return &Store{vs: vs, emb: emb, kvs: kvs, cache: cache}, nil
}

// RunInvalidationLoop subscribes to the invalidation channel and drops
// cached steps named by peer processes. Blocks until ctx is cancelled.
func (s *Store) RunInvalidationLoop(ctx context.Context) error {
	if s.kvs == nil {
		<-ctx.Done()
		return nil
	}
	msgs, err := s.kvs.Subscribe(ctx, InvalidationChannel)
	if err != nil {
		return fmt.Errorf("subscribe invalidation channel: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-msgs:
			if !ok {
				return nil
			}
			s.cache.Remove(id)
			getLog().Debug().Str("uuid", id).Msg("Cache invalidated by peer")
		}
	}
}

// invalidate drops the local cache entry and tells peers to do the same.
func (s *Store) invalidate(ctx context.Context, id string) {
	s.cache.Remove(id)
	if s.kvs == nil {
		return
	}
	if err := s.kvs.Publish(ctx, InvalidationChannel, id); err != nil {
		getLog().Warn().Err(err).Str("uuid", id).Msg("Failed to publish cache invalidation")
	}
}

func spaceAllowed(spaceID string, allowed []string) bool {
	return lo.Contains(allowed, spaceID)
}

// Get loads a step by uuid. Steps outside the caller's allowed spaces are
// reported as not found, never leaked.
func (s *Store) Get(ctx context.Context, id uuid.UUID, spaces []string) (*Step, error) {
	key := id.String()
	if step, ok := s.cache.Get(key); ok {
		if !spaceAllowed(step.SpaceID, spaces) {
			return nil, kairoserr.NotFound("memory %s not found", key)
		}
		return step, nil
	}

	points, err := s.vs.Retrieve(ctx, []string{key})
	if err != nil {
		return nil, kairoserr.Transient("RETRIEVE", err)
	}
	if len(points) == 0 {
		return nil, kairoserr.NotFound("memory %s not found", key)
	}

	step, err := FromPayload(points[0].ID, points[0].Payload)
	if err != nil {
		return nil, kairoserr.Transient("RETRIEVE", err)
	}
	s.cache.Add(key, step)

	if !spaceAllowed(step.SpaceID, spaces) {
		return nil, kairoserr.NotFound("memory %s not found", key)
	}
	return step, nil
}

// Search runs a vector similarity query with a bounded quality boost, then a
// keyword fallback when the vector pass yields fewer than limit results.
// When collapse is set, results fold to one representative per chain.
func (s *Store) Search(ctx context.Context, query string, limit int, spaces []string, collapse bool) ([]ScoredStep, error) {
	if limit <= 0 {
		return nil, nil
	}
	filter := vectorstore.Filter{Spaces: spaces}

	var results []ScoredStep

	vector, err := s.emb.Embed(ctx, query)
	if err != nil {
		getLog().Warn().Err(err).Msg("Query embedding failed; using keyword search only")
	} else {
		candidates := limit * 3
		if candidates > maxVectorCandidates {
			candidates = maxVectorCandidates
		}
		hits, err := s.vs.Search(ctx, vector, candidates, filter)
		if err != nil {
			return nil, kairoserr.Transient("SEARCH", err)
		}
		for _, hit := range hits {
			step, err := FromPayload(hit.ID, hit.Payload)
			if err != nil {
				getLog().Warn().Err(err).Str("id", hit.ID).Msg("Skipping undecodable point")
				continue
			}
			results = append(results, ScoredStep{Step: step, Score: boostScore(hit.Score, step)})
		}
		sortScored(results)
	}

	if len(results) < limit {
		fallback, err := s.keywordSearch(ctx, query, filter)
		if err != nil {
			getLog().Warn().Err(err).Msg("Keyword fallback failed")
		} else {
			results = mergeResults(results, fallback)
		}
	}

	if collapse {
		results = CollapseToHeads(results)
	}
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// boostScore applies the bounded quality boost:
// raw * (1 + 0.1 * clamp(step_quality_score, 0, 1)).
func boostScore(raw float64, step *Step) float64 {
	q := 0.0
	if step.Quality != nil {
		q = step.Quality.StepQualityScore
	}
	if q < 0 {
		q = 0
	} else if q > 1 {
		q = 1
	}
	return raw * (1 + qualityBoostWeight*q)
}

// sortScored orders by score descending with a stable uuid tie-break.
func sortScored(results []ScoredStep) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Step.UUID.String() < results[j].Step.UUID.String()
	})
}

// keywordSearch scrolls in-space points and keeps those whose label or text
// contains the query, case-insensitive, at a neutral score.
func (s *Store) keywordSearch(ctx context.Context, query string, filter vectorstore.Filter) ([]ScoredStep, error) {
	points, err := s.vs.Scroll(ctx, filter, keywordScrollLimit)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	var out []ScoredStep
	for _, p := range points {
		step, err := FromPayload(p.ID, p.Payload)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(step.Label), needle) ||
			strings.Contains(strings.ToLower(step.Text), needle) {
			out = append(out, ScoredStep{Step: step, Score: keywordNeutralScore})
		}
	}
	return out, nil
}

// mergeResults appends fallback hits after vector hits, deduplicating by
// uuid and preserving vector order.
func mergeResults(vector, fallback []ScoredStep) []ScoredStep {
	seen := make(map[uuid.UUID]struct{}, len(vector))
	for _, r := range vector {
		seen[r.Step.UUID] = struct{}{}
	}
	out := vector
	for _, r := range fallback {
		if _, dup := seen[r.Step.UUID]; dup {
			continue
		}
		seen[r.Step.UUID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// CollapseToHeads folds candidates to one representative per chain,
// preferring the head step (step_index 1), then the higher score. Steps
// without a chain pass through untouched. Relative order of survivors is
// preserved.
func CollapseToHeads(results []ScoredStep) []ScoredStep {
	type best struct {
		idx int
		r   ScoredStep
	}
	byChain := make(map[string]best)
	var order []ScoredStep

	for _, r := range results {
		if r.Step.Chain == nil {
			order = append(order, r)
			continue
		}
		cid := r.Step.Chain.ID
		cur, ok := byChain[cid]
		if !ok {
			byChain[cid] = best{idx: len(order), r: r}
			order = append(order, r)
			continue
		}
		if better(r, cur.r) {
			byChain[cid] = best{idx: cur.idx, r: r}
			order[cur.idx] = r
		}
	}
	return order
}

func better(candidate, incumbent ScoredStep) bool {
	candHead := candidate.Step.IsHead()
	incHead := incumbent.Step.IsHead()
	if candHead != incHead {
		return candHead
	}
	return candidate.Score > incumbent.Score
}

// StoreChain persists built steps as a new chain. Without force, minting a
// chain whose id already exists fails with DUPLICATE_CHAIN and the existing
// steps attached; with force, the prior chain is deleted first.
func (s *Store) StoreChain(ctx context.Context, steps []*Step, force bool) ([]*Step, error) {
	if len(steps) == 0 {
		return nil, kairoserr.Invalid("no steps to store")
	}

	// One mint may span several chains (one per H1 section).
	byChain := make(map[string][]*Step)
	for _, st := range steps {
		if st.Chain == nil {
			return nil, kairoserr.Invalid("step %s has no chain reference", st.UUID)
		}
		byChain[st.Chain.ID] = append(byChain[st.Chain.ID], st)
	}

	for chainID, chainSteps := range byChain {
		existing, err := s.chainMembers(ctx, chainID)
		if err != nil {
			return nil, kairoserr.Transient("STORE", err)
		}
		if len(existing) == 0 {
			continue
		}
		if !force {
			items := make([]any, 0, len(existing))
			for _, ex := range existing {
				items = append(items, map[string]any{
					"uri":         uri.ForMemory(ex.UUID),
					"memory_uuid": ex.UUID.String(),
					"label":       ex.Label,
					"step_index":  chainStepIndex(ex),
				})
			}
			return nil, kairoserr.Duplicate(
				fmt.Sprintf("chain %q already exists; pass force_update to replace it", chainSteps[0].Chain.Label),
				items,
			)
		}

		ids := lo.Map(existing, func(st *Step, _ int) string { return st.UUID.String() })
		if err := s.vs.Delete(ctx, ids); err != nil {
			return nil, kairoserr.Transient("STORE", err)
		}
		for _, id := range ids {
			s.invalidate(ctx, id)
		}
		getLog().Info().Str("chain_id", chainID).Int("deleted", len(ids)).Msg("Replaced existing chain")
	}

	// Embed all step bodies in one batched call. Embedding downtime must not
	// block minting: fall back to zero vectors so the upsert stays idempotent
	// and keyword search still finds the steps.
	texts := lo.Map(steps, func(st *Step, _ int) string { return st.Body() })
	vectors, err := s.emb.EmbedBatch(ctx, texts)
	if err != nil {
		getLog().Error().Err(err).Int("steps", len(steps)).Msg("Embedding failed; storing zero vectors")
		vectors = make([][]float32, len(steps))
		for i := range vectors {
			vectors[i] = make([]float32, s.emb.Dim())
		}
	}

	points := make([]vectorstore.Point, 0, len(steps))
	for i, st := range steps {
		points = append(points, vectorstore.Point{
			ID:      st.UUID.String(),
			Vector:  vectors[i],
			Payload: ToPayload(st),
		})
	}
	if err := s.vs.Upsert(ctx, points); err != nil {
		return nil, kairoserr.Transient("STORE", err)
	}
	for _, st := range steps {
		s.invalidate(ctx, st.UUID.String())
	}

	getLog().Info().Int("steps", len(steps)).Int("chains", len(byChain)).Msg("Stored chain")
	return steps, nil
}

func chainStepIndex(st *Step) int {
	if st.Chain == nil {
		return 0
	}
	return st.Chain.StepIndex
}

// UpdateText replaces a step's body. Text carrying BODY markers is reduced
// to the marked region first. The step is re-embedded and re-upserted.
func (s *Store) UpdateText(ctx context.Context, id uuid.UUID, text string, spaces []string) error {
	step, err := s.Get(ctx, id, spaces)
	if err != nil {
		return err
	}

	updated := *step
	updated.Text = ExtractBody(text)
	return s.put(ctx, &updated)
}

// UpdateFields replaces payload fields verbatim, keeping everything else.
func (s *Store) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any, spaces []string) error {
	step, err := s.Get(ctx, id, spaces)
	if err != nil {
		return err
	}

	payload := ToPayload(step)
	for k, v := range fields {
		payload[k] = v
	}
	updated, err := FromPayload(id.String(), payload)
	if err != nil {
		return kairoserr.Invalid("invalid field update: %v", err)
	}
	return s.put(ctx, updated)
}

// UpdateQuality persists a modified quality record for a step.
func (s *Store) UpdateQuality(ctx context.Context, step *Step) error {
	return s.put(ctx, step)
}

// put re-embeds and upserts one step, then invalidates caches.
func (s *Store) put(ctx context.Context, step *Step) error {
	vector, err := s.emb.Embed(ctx, step.Body())
	if err != nil {
		getLog().Warn().Err(err).Str("uuid", step.UUID.String()).Msg("Embedding failed on update; storing zero vector")
		vector = make([]float32, s.emb.Dim())
	}

	point := vectorstore.Point{
		ID:      step.UUID.String(),
		Vector:  vector,
		Payload: ToPayload(step),
	}
	if err := s.vs.Upsert(ctx, []vectorstore.Point{point}); err != nil {
		return kairoserr.Transient("UPDATE", err)
	}
	s.invalidate(ctx, step.UUID.String())
	return nil
}

// Put upserts one step directly, bypassing chain duplicate checks. Used for
// the built-in system memories seeded at startup.
func (s *Store) Put(ctx context.Context, step *Step) error {
	return s.put(ctx, step)
}

// Delete removes a step. Space scoping applies: a caller cannot delete what
// it cannot see.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, spaces []string) error {
	if _, err := s.Get(ctx, id, spaces); err != nil {
		return err
	}
	if err := s.vs.Delete(ctx, []string{id.String()}); err != nil {
		return kairoserr.Transient("DELETE", err)
	}
	s.invalidate(ctx, id.String())
	return nil
}

// chainMembers lists every step sharing a chain id, ordered by step index.
func (s *Store) chainMembers(ctx context.Context, chainID string) ([]*Step, error) {
	points, err := s.vs.Scroll(ctx, vectorstore.Filter{ChainID: chainID}, chainScrollLimit)
	if err != nil {
		return nil, err
	}
	steps := make([]*Step, 0, len(points))
	for _, p := range points {
		step, err := FromPayload(p.ID, p.Payload)
		if err != nil {
			continue
		}
		steps = append(steps, step)
	}
	sort.Slice(steps, func(i, j int) bool { return chainStepIndex(steps[i]) < chainStepIndex(steps[j]) })
	return steps, nil
}

// ChainNext resolves the step after the given one, or nil at chain end.
func (s *Store) ChainNext(ctx context.Context, step *Step) (*Step, error) {
	return s.chainNeighbor(ctx, step, +1)
}

// ChainPrevious resolves the step before the given one, or nil at the head.
func (s *Store) ChainPrevious(ctx context.Context, step *Step) (*Step, error) {
	return s.chainNeighbor(ctx, step, -1)
}

// ChainFirst resolves the head step of the given step's chain.
func (s *Store) ChainFirst(ctx context.Context, step *Step) (*Step, error) {
	if step.Chain == nil || step.Chain.StepIndex == 1 {
		return step, nil
	}
	members, err := s.chainMembers(ctx, step.Chain.ID)
	if err != nil {
		return nil, kairoserr.Transient("RETRIEVE", err)
	}
	for _, m := range members {
		if chainStepIndex(m) == 1 {
			return m, nil
		}
	}
	// Orphaned mid-chain step; treat it as its own head.
	return step, nil
}

func (s *Store) chainNeighbor(ctx context.Context, step *Step, delta int) (*Step, error) {
	if step.Chain == nil {
		return nil, nil
	}
	want := step.Chain.StepIndex + delta
	if want < 1 || want > step.Chain.StepCount {
		return nil, nil
	}
	members, err := s.chainMembers(ctx, step.Chain.ID)
	if err != nil {
		return nil, kairoserr.Transient("RETRIEVE", err)
	}
	for _, m := range members {
		if chainStepIndex(m) == want {
			return m, nil
		}
	}
	return nil, nil
}

// Touch refreshes the local cache entry after an external mutation.
func (s *Store) Touch(step *Step) {
	s.cache.Add(step.UUID.String(), step)
}

// Now is the clock used for created_at stamps; overridable in tests.
var Now = func() time.Time { return time.Now().UTC() }
