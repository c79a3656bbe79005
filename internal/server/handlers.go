// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kairos-ai/kairos/internal/engine"
	"github.com/kairos-ai/kairos/internal/kairoserr"
	"github.com/kairos-ai/kairos/internal/proof"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	eng *engine.Engine
}

// NewHandlers creates the handler set.
func NewHandlers(eng *engine.Engine) *Handlers {
	return &Handlers{eng: eng}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// errorBody is the wire shape for operation failures. Items is populated for
// DUPLICATE_CHAIN so the caller can show the existing steps.
type errorBody struct {
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
	Items     []any           `json:"items,omitempty"`
	Metadata  engine.Metadata `json:"metadata"`
}

func writeError(w http.ResponseWriter, start time.Time, err error) {
	body := errorBody{
		ErrorCode: string(kairoserr.CodeOf(err)),
		Message:   err.Error(),
		Metadata:  engine.Metadata{DurationMS: time.Since(start).Milliseconds()},
	}
	if body.ErrorCode == "" {
		body.ErrorCode = "INTERNAL_ERROR"
	}
	var kerr *kairoserr.Error
	if errors.As(err, &kerr) {
		body.Items = kerr.Items
	}
	w.Header().Set(errorCodeHeader, body.ErrorCode)
	writeJSON(w, kairoserr.StatusOf(err), body)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, time.Now(), kairoserr.Invalid("malformed request body: %v", err))
		return false
	}
	return true
}

// --- request shapes ---

type searchRequest struct {
	Query string `json:"query"`
	Space string `json:"space,omitempty"`
}

type beginRequest struct {
	URI   string `json:"uri"`
	Space string `json:"space,omitempty"`
}

type nextRequest struct {
	URI      string          `json:"uri"`
	Solution *proof.Solution `json:"solution,omitempty"`
	Space    string          `json:"space,omitempty"`
}

type attestRequest struct {
	URI          string   `json:"uri"`
	Outcome      string   `json:"outcome"`
	Message      string   `json:"message"`
	QualityBonus *float64 `json:"quality_bonus,omitempty"`
	LLMModelID   string   `json:"llm_model_id,omitempty"`
	Space        string   `json:"space,omitempty"`
}

type mintRequest struct {
	MarkdownDoc string `json:"markdown_doc"`
	LLMModelID  string `json:"llm_model_id"`
	ForceUpdate bool   `json:"force_update,omitempty"`
	Space       string `json:"space,omitempty"`
}

type updateRequest struct {
	URIs        []string       `json:"uris"`
	MarkdownDoc []string       `json:"markdown_doc,omitempty"`
	Updates     map[string]any `json:"updates,omitempty"`
	Space       string         `json:"space,omitempty"`
}

type deleteRequest struct {
	URIs  []string `json:"uris"`
	Space string   `json:"space,omitempty"`
}

// --- operation handlers ---

// Search handles POST /api/v1/search.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.eng.Search(r.Context(), req.Query, req.Space)
	if err != nil {
		writeError(w, start, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Begin handles POST /api/v1/begin.
func (h *Handlers) Begin(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req beginRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.eng.Begin(r.Context(), req.URI, req.Space)
	if err != nil {
		writeError(w, start, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Next handles POST /api/v1/next. Blocked submissions are a 200 with the
// blocked payload; only infrastructure failures are 5xx.
func (h *Handlers) Next(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req nextRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.eng.Next(r.Context(), req.URI, req.Solution, req.Space)
	if err != nil {
		writeError(w, start, err)
		return
	}
	if res.Blocked != nil {
		writeJSON(w, http.StatusOK, res.Blocked)
		return
	}
	writeJSON(w, http.StatusOK, res.Step)
}

// Attest handles POST /api/v1/attest.
func (h *Handlers) Attest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req attestRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.eng.Attest(r.Context(), req.URI, req.Outcome, req.Message, req.QualityBonus, req.LLMModelID, req.Space)
	if err != nil {
		writeError(w, start, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Mint handles POST /api/v1/mint.
func (h *Handlers) Mint(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req mintRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.eng.Mint(r.Context(), req.MarkdownDoc, req.LLMModelID, req.ForceUpdate, req.Space)
	if err != nil {
		writeError(w, start, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Update handles POST /api/v1/update.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.eng.Update(r.Context(), req.URIs, req.MarkdownDoc, req.Updates, req.Space)
	if err != nil {
		writeError(w, start, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Delete handles POST /api/v1/delete.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req deleteRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := h.eng.Delete(r.Context(), req.URIs, req.Space)
	if err != nil {
		writeError(w, start, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Healthz handles GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
