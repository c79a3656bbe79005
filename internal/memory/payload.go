// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package memory

import (
	"time"

	"github.com/google/uuid"
)

// Known payload keys. Anything else found on read is kept in Extensions.
var knownPayloadKeys = map[string]struct{}{
	"label": {}, "tags": {}, "text": {}, "llm_model_id": {}, "created_at": {},
	"space_id": {}, "task": {}, "type": {}, "quality_metadata": {},
	"quality_metrics": {}, "chain": {}, "proof_of_work": {},
}

// ToPayload converts a Step into the vector-store point payload.
func ToPayload(s *Step) map[string]any {
	p := map[string]any{
		"label":        s.Label,
		"tags":         s.Tags,
		"text":         s.Text,
		"llm_model_id": s.AuthorModelID,
		"created_at":   s.CreatedAt.UTC().Format(time.RFC3339),
		"space_id":     s.SpaceID,
	}
	if s.Task != "" {
		p["task"] = s.Task
	}
	if s.Type != "" {
		p["type"] = s.Type
	}

	if s.Chain != nil {
		p["chain"] = map[string]any{
			"id":         s.Chain.ID,
			"label":      s.Chain.Label,
			"step_index": s.Chain.StepIndex,
			"step_count": s.Chain.StepCount,
		}
	}

	if s.ProofDef != nil {
		pow := map[string]any{
			"type":     s.ProofDef.Type,
			"required": s.ProofDef.Required,
		}
		switch {
		case s.ProofDef.Shell != nil:
			pow["shell"] = map[string]any{
				"cmd":             s.ProofDef.Shell.Cmd,
				"timeout_seconds": s.ProofDef.Shell.TimeoutSeconds,
			}
		case s.ProofDef.MCP != nil:
			m := map[string]any{"tool_name": s.ProofDef.MCP.ToolName}
			if s.ProofDef.MCP.ExpectedResult != nil {
				m["expected_result"] = s.ProofDef.MCP.ExpectedResult
			}
			pow["mcp"] = m
		case s.ProofDef.UserInput != nil:
			ui := map[string]any{}
			if s.ProofDef.UserInput.Prompt != "" {
				ui["prompt"] = s.ProofDef.UserInput.Prompt
			}
			pow["user_input"] = ui
		case s.ProofDef.Comment != nil:
			pow["comment"] = map[string]any{"min_length": s.ProofDef.Comment.MinLength}
		}
		p["proof_of_work"] = pow
	}

	q := s.Quality
	if q == nil {
		q = &Quality{}
	}
	p["quality_metadata"] = map[string]any{
		"step_quality_score": q.StepQualityScore,
		"step_quality":       q.StepQuality,
	}
	metrics := map[string]any{
		"retrieval_count": q.RetrievalCount,
		"success_count":   q.SuccessCount,
		"failure_count":   q.FailureCount,
		"quality_bonus":   q.QualityBonus,
	}
	if !q.LastRated.IsZero() {
		metrics["last_rated"] = q.LastRated.UTC().Format(time.RFC3339)
	}
	if q.LastRater != "" {
		metrics["last_rater"] = q.LastRater
	}
	if q.UsageContext != "" {
		metrics["usage_context"] = q.UsageContext
	}
	p["quality_metrics"] = metrics

	for k, v := range s.Extensions {
		if _, known := knownPayloadKeys[k]; !known {
			p[k] = v
		}
	}

	return p
}

// FromPayload reconstructs a Step from a point payload. Decoding is
// defensive: JSON numbers arrive as float64 and missing keys are tolerated.
func FromPayload(id string, payload map[string]any) (*Step, error) {
	stepID, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}

	s := &Step{
		UUID:          stepID,
		Label:         asString(payload["label"]),
		Tags:          asStringSlice(payload["tags"]),
		Text:          asString(payload["text"]),
		AuthorModelID: asString(payload["llm_model_id"]),
		SpaceID:       asString(payload["space_id"]),
		Task:          asString(payload["task"]),
		Type:          asString(payload["type"]),
	}
	if s.SpaceID == "" {
		s.SpaceID = DefaultSpace
	}
	if ts, err := time.Parse(time.RFC3339, asString(payload["created_at"])); err == nil {
		s.CreatedAt = ts
	}

	if m, ok := payload["chain"].(map[string]any); ok {
		s.Chain = &ChainRef{
			ID:        asString(m["id"]),
			Label:     asString(m["label"]),
			StepIndex: asInt(m["step_index"]),
			StepCount: asInt(m["step_count"]),
		}
	}

	if m, ok := payload["proof_of_work"].(map[string]any); ok {
		def := &ProofDef{
			Type:     asString(m["type"]),
			Required: asBool(m["required"]),
		}
		switch def.Type {
		case ProofShell:
			sh, _ := m["shell"].(map[string]any)
			def.Shell = &ShellProofDef{
				Cmd:            asString(sh["cmd"]),
				TimeoutSeconds: asInt(sh["timeout_seconds"]),
			}
		case ProofMCP:
			mc, _ := m["mcp"].(map[string]any)
			def.MCP = &MCPProofDef{
				ToolName:       asString(mc["tool_name"]),
				ExpectedResult: mc["expected_result"],
			}
		case ProofUserInput:
			ui, _ := m["user_input"].(map[string]any)
			def.UserInput = &UserInputProofDef{Prompt: asString(ui["prompt"])}
		case ProofComment:
			cm, _ := m["comment"].(map[string]any)
			minLen := asInt(cm["min_length"])
			if minLen < 1 {
				minLen = DefaultCommentMinLength
			}
			def.Comment = &CommentProofDef{MinLength: minLen}
		}
		s.ProofDef = def
	}

	q := &Quality{}
	if m, ok := payload["quality_metadata"].(map[string]any); ok {
		q.StepQualityScore = asFloat(m["step_quality_score"])
		q.StepQuality = asString(m["step_quality"])
	}
	if m, ok := payload["quality_metrics"].(map[string]any); ok {
		q.RetrievalCount = asInt(m["retrieval_count"])
		q.SuccessCount = asInt(m["success_count"])
		q.FailureCount = asInt(m["failure_count"])
		q.QualityBonus = asFloat(m["quality_bonus"])
		q.LastRater = asString(m["last_rater"])
		q.UsageContext = asString(m["usage_context"])
		if ts, err := time.Parse(time.RFC3339, asString(m["last_rated"])); err == nil {
			q.LastRated = ts
		}
	}
	s.Quality = q

	for k, v := range payload {
		if _, known := knownPayloadKeys[k]; !known {
			if s.Extensions == nil {
				s.Extensions = make(map[string]any)
			}
			s.Extensions[k] = v
		}
	}

	return s, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asStringSlice(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
