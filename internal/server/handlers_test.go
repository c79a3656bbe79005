// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairos-ai/kairos/internal/config"
	"github.com/kairos-ai/kairos/internal/engine"
	"github.com/kairos-ai/kairos/internal/memory"
	"github.com/kairos-ai/kairos/internal/proof"
	"github.com/kairos-ai/kairos/test/testutil"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()

	vs := testutil.NewFakeVectorStore()
	emb := testutil.NewFakeEmbedder()
	kvs := testutil.NewMemoryKV()

	mem, err := memory.NewStore(vs, emb, kvs)
	require.NoError(t, err)
	pstore := proof.NewStore(kvs, 0)
	proofs := proof.NewEngine(pstore, emb, 3, 0.25)

	cfg := config.EngineConfig{
		ScoreThreshold:           0.3,
		GroupCollapse:            true,
		CommentSemanticThreshold: 0.25,
		MaxRetries:               3,
		DefaultSpace:             "public",
		SearchCacheTTL:           5 * time.Minute,
	}
	return NewHandlers(engine.New(mem, proofs, pstore, kvs, cfg, nil))
}

func post(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestMintAndBeginOverHTTP(t *testing.T) {
	h := newTestHandlers(t)

	rec := post(t, h.Mint, mintRequest{MarkdownDoc: testutil.TwoStepCommentDoc, LLMModelID: "test-model"})
	require.Equal(t, http.StatusOK, rec.Code)

	var minted engine.MintResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &minted))
	assert.Equal(t, "stored", minted.Status)
	require.Len(t, minted.Items, 2)

	rec = post(t, h.Begin, beginRequest{URI: minted.Items[0].URI})
	require.Equal(t, http.StatusOK, rec.Code)

	var begin engine.StepResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &begin))
	assert.True(t, begin.MustObey)
	require.NotNil(t, begin.Challenge)
	assert.Equal(t, proof.GenesisHash, begin.Challenge.ProofHash)
}

func TestDuplicateMintReturns409(t *testing.T) {
	h := newTestHandlers(t)

	rec := post(t, h.Mint, mintRequest{MarkdownDoc: testutil.TwoStepCommentDoc, LLMModelID: "m"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, h.Mint, mintRequest{MarkdownDoc: testutil.TwoStepCommentDoc, LLMModelID: "m"})
	require.Equal(t, http.StatusConflict, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "DUPLICATE_CHAIN", body.ErrorCode)
	assert.Len(t, body.Items, 2)
}

func TestNextBlockedIs200(t *testing.T) {
	h := newTestHandlers(t)

	rec := post(t, h.Mint, mintRequest{MarkdownDoc: testutil.TwoStepCommentDoc, LLMModelID: "m"})
	require.Equal(t, http.StatusOK, rec.Code)
	var minted engine.MintResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &minted))

	rec = post(t, h.Begin, beginRequest{URI: minted.Items[0].URI})
	require.Equal(t, http.StatusOK, rec.Code)

	// No solution: still a 200, shaped as a blocked payload.
	rec = post(t, h.Next, nextRequest{URI: minted.Items[0].URI})
	require.Equal(t, http.StatusOK, rec.Code)

	var blocked engine.BlockedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blocked))
	assert.True(t, blocked.MustObey)
	assert.Equal(t, "MISSING_FIELD", blocked.ErrorCode)
	require.NotNil(t, blocked.Challenge)
}

func TestBadURIReturns400(t *testing.T) {
	h := newTestHandlers(t)

	rec := post(t, h.Begin, beginRequest{URI: "not-a-uri"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_INPUT", body.ErrorCode)
}

func TestUnknownStepReturns404(t *testing.T) {
	h := newTestHandlers(t)

	rec := post(t, h.Begin, beginRequest{URI: "kairos://mem/11111111-2222-3333-4444-555555555555"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedBodyReturns400(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.Search(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestBroadcasterStopsOnCancel(t *testing.T) {
	registry, broadcaster := NewBroadcaster()
	srv := New(&config.ServerConfig{Host: "127.0.0.1", Port: 0}, nil, registry, broadcaster)
	require.NotNil(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Broadcaster run must return promptly on cancellation.
	done := make(chan struct{})
	go func() {
		broadcaster.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop")
	}
}
