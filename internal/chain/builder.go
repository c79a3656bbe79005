// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chain builds ordered protocol chains from markdown documents.
//
// The parser is a deliberate line state machine (fence tracking + pending
// buffers) rather than a markdown AST: the grammar it needs is tiny (H1/H2
// headings, fenced blocks, one shorthand line) and ordering must be fully
// under the builder's control.
package chain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kairos-ai/kairos/internal/memory"
)

// DefaultShellTimeout applies when a PROOF OF WORK line has no timeout.
const DefaultShellTimeout = 60 * time.Second

// Heading prefixes that would let authors impose their own numbering.
// Stripped so the builder alone decides step ordering.
var (
	stepPrefixRe    = regexp.MustCompile(`(?i)^STEP\s+\d+\s*[.:)\-]?\s*`)
	numberPrefixRe  = regexp.MustCompile(`^\d+\s*[.)]\s*`)
	alnumPrefixRe   = regexp.MustCompile(`^[A-Za-z]\d+\)\s*`)
	proofOfWorkRe   = regexp.MustCompile(`(?i)^PROOF OF WORK:\s*(.*)$`)
	codeIdentRe     = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]{2,}`)
	fenceOpenRe     = regexp.MustCompile("^```\\s*([A-Za-z0-9_+-]*)\\s*$")
)

// Build parses a markdown document into one or more chains of steps.
// Steps are returned in document order; every step carries its chain
// position and optional proof definition.
func Build(markdown, authorID, spaceID string, now time.Time) ([]*memory.Step, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, fmt.Errorf("empty markdown document")
	}
	if spaceID == "" {
		spaceID = memory.DefaultSpace
	}

	sections := splitSections(markdown)

	var steps []*memory.Step
	for _, sec := range sections {
		secSteps := buildSection(sec, authorID, spaceID, now)
		steps = append(steps, secSteps...)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("document produced no steps")
	}
	return steps, nil
}

// section is one H1-delimited region of the document.
type section struct {
	label string
	lines []string
}

// splitSections partitions the document at level-1 headings found outside
// fenced code blocks. Without any H1, the whole document is one section
// labeled by its first H2 (or empty).
func splitSections(markdown string) []section {
	lines := strings.Split(markdown, "\n")

	var sections []section
	var current *section
	inFence := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}

		if !inFence && strings.HasPrefix(trimmed, "# ") {
			if current != nil {
				sections = append(sections, *current)
			}
			current = &section{label: strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))}
			continue
		}

		if current == nil {
			current = &section{}
		}
		current.lines = append(current.lines, line)
	}
	if current != nil {
		sections = append(sections, *current)
	}

	// No H1 anywhere: label the single section from its first H2.
	if len(sections) == 1 && sections[0].label == "" {
		for _, line := range sections[0].lines {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "## ") {
				sections[0].label = sanitizeHeading(strings.TrimPrefix(trimmed, "## "))
				break
			}
		}
	}

	return sections
}

// slice is the raw material of one step before labeling.
type slice struct {
	lines    []string
	proofDef *memory.ProofDef
}

// buildSection turns one H1 section into its ordered steps.
func buildSection(sec section, authorID, spaceID string, now time.Time) []*memory.Step {
	slices := sliceSection(sec.lines)
	if len(slices) == 0 {
		return nil
	}

	chainID := memory.ChainID(sec.label).String()
	count := len(slices)

	steps := make([]*memory.Step, 0, count)
	for i, sl := range slices {
		body := strings.TrimSpace(strings.Join(sl.lines, "\n"))
		label := firstH2(sl.lines)
		if label == "" {
			label = sec.label
		}
		if label == "" {
			label = fmt.Sprintf("Step %d", i+1)
		}

		step := &memory.Step{
			UUID:          uuid.New(),
			Label:         label,
			Tags:          extractTags(sl.lines, body),
			Text:          body,
			CreatedAt:     now,
			AuthorModelID: authorID,
			SpaceID:       spaceID,
			Type:          "protocol_step",
			ProofDef:      sl.proofDef,
			Chain: &memory.ChainRef{
				ID:        chainID,
				Label:     sec.label,
				StepIndex: i + 1,
				StepCount: count,
			},
		}
		steps = append(steps, step)
	}
	return steps
}

// sliceSection cuts a section into step slices at challenge blocks. Each
// fenced json block whose object carries a "challenge" key closes one step.
func sliceSection(lines []string) []slice {
	var slices []slice
	var pending []string   // body lines accumulated since the last cut
	var fenceBuf []string  // content of the fence currently open
	inFence := false
	fenceLang := ""

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inFence {
			if m := fenceOpenRe.FindStringSubmatch(trimmed); m != nil {
				inFence = true
				fenceLang = strings.ToLower(m[1])
				fenceBuf = fenceBuf[:0]
				continue
			}
			// Numbering is stripped outside fences only; fenced content is
			// carried into the body verbatim.
			pending = append(pending, sanitizeHeadingLine(line))
			continue
		}

		// Inside a fence.
		if trimmed == "```" {
			inFence = false
			if fenceLang == "json" {
				if def := parseChallengeBlock(fenceBuf); def != nil {
					slices = append(slices, slice{lines: pending, proofDef: def})
					pending = nil
					continue
				}
			}
			// Not a challenge block: keep the fence verbatim in the body.
			pending = append(pending, "```"+fenceLang)
			pending = append(pending, fenceBuf...)
			pending = append(pending, "```")
			continue
		}
		fenceBuf = append(fenceBuf, line)
	}

	// Unterminated fence: treat its content as body text.
	if inFence {
		pending = append(pending, "```"+fenceLang)
		pending = append(pending, fenceBuf...)
	}

	if len(slices) == 0 {
		// No challenge blocks: the whole section is one step, with an
		// optional trailing PROOF OF WORK shorthand.
		body, def := extractShorthand(pending)
		if strings.TrimSpace(strings.Join(body, "\n")) == "" {
			return nil
		}
		return []slice{{lines: body, proofDef: def}}
	}

	// Trailing content becomes a final step with no proof required.
	if strings.TrimSpace(strings.Join(pending, "\n")) != "" {
		slices = append(slices, slice{
			lines:    pending,
			proofDef: nil,
		})
	}

	return slices
}

// parseChallengeBlock decodes a fenced json block and converts its
// "challenge" object into a ProofDef. Returns nil when the block is not a
// challenge (plain json examples stay in the step body).
func parseChallengeBlock(lines []string) *memory.ProofDef {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(strings.Join(lines, "\n")), &parsed); err != nil {
		return nil
	}
	challenge, ok := parsed["challenge"].(map[string]any)
	if !ok {
		return nil
	}
	return proofDefFromObject(challenge)
}

// proofDefFromObject builds a ProofDef from a decoded challenge object,
// defaulting defensively on missing or malformed fields.
func proofDefFromObject(obj map[string]any) *memory.ProofDef {
	def := &memory.ProofDef{Required: true}
	if req, ok := obj["required"].(bool); ok {
		def.Required = req
	}

	typ, _ := obj["type"].(string)
	switch typ {
	case memory.ProofShell:
		def.Type = memory.ProofShell
		sh, _ := obj["shell"].(map[string]any)
		cmd, _ := sh["cmd"].(string)
		timeout := intField(sh["timeout_seconds"])
		if timeout < 1 {
			timeout = int(DefaultShellTimeout.Seconds())
		}
		def.Shell = &memory.ShellProofDef{Cmd: cmd, TimeoutSeconds: timeout}
	case memory.ProofMCP:
		def.Type = memory.ProofMCP
		mc, _ := obj["mcp"].(map[string]any)
		name, _ := mc["tool_name"].(string)
		def.MCP = &memory.MCPProofDef{ToolName: name, ExpectedResult: mc["expected_result"]}
	case memory.ProofUserInput:
		def.Type = memory.ProofUserInput
		ui, _ := obj["user_input"].(map[string]any)
		prompt, _ := ui["prompt"].(string)
		def.UserInput = &memory.UserInputProofDef{Prompt: prompt}
	case memory.ProofComment:
		def.Type = memory.ProofComment
		cm, _ := obj["comment"].(map[string]any)
		minLen := intField(cm["min_length"])
		if minLen < 1 {
			minLen = memory.DefaultCommentMinLength
		}
		def.Comment = &memory.CommentProofDef{MinLength: minLen}
	default:
		// Unknown type: fall back to a comment proof so the step still
		// demands some evidence.
		def.Type = memory.ProofComment
		def.Comment = &memory.CommentProofDef{MinLength: memory.DefaultCommentMinLength}
	}
	return def
}

func intField(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

// extractShorthand scans body lines for a trailing PROOF OF WORK: line and
// returns the body without it plus the parsed shell proof, if any.
func extractShorthand(lines []string) ([]string, *memory.ProofDef) {
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			continue
		}
		m := proofOfWorkRe.FindStringSubmatch(trimmed)
		if m == nil {
			return lines, nil
		}
		body := append(append([]string{}, lines[:i]...), lines[i+1:]...)
		return body, ParseProofOfWorkLine(m[1])
	}
	return lines, nil
}

// ParseProofOfWorkLine parses the shorthand `[timeout <N><unit>] <cmd>`.
// Units: ms, s, m, h. A missing or malformed timeout falls back to 60s.
// Never panics on malformed input; an empty command yields nil.
func ParseProofOfWorkLine(rest string) *memory.ProofDef {
	rest = strings.TrimSpace(rest)
	timeout := DefaultShellTimeout

	fields := strings.Fields(rest)
	if len(fields) >= 2 && strings.EqualFold(fields[0], "timeout") {
		if d := parseTimeout(fields[1]); d > 0 {
			timeout = d
			rest = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(rest, fields[0])), fields[1]))
		}
	}

	if rest == "" {
		return nil
	}

	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return &memory.ProofDef{
		Type:     memory.ProofShell,
		Required: true,
		Shell:    &memory.ShellProofDef{Cmd: rest, TimeoutSeconds: seconds},
	}
}

// parseTimeout parses <N><unit> with unit in ms/s/m/h. Returns 0 on failure.
func parseTimeout(token string) time.Duration {
	var unit time.Duration
	var num string
	switch {
	case strings.HasSuffix(token, "ms"):
		unit, num = time.Millisecond, strings.TrimSuffix(token, "ms")
	case strings.HasSuffix(token, "s"):
		unit, num = time.Second, strings.TrimSuffix(token, "s")
	case strings.HasSuffix(token, "m"):
		unit, num = time.Minute, strings.TrimSuffix(token, "m")
	case strings.HasSuffix(token, "h"):
		unit, num = time.Hour, strings.TrimSuffix(token, "h")
	default:
		return 0
	}
	n, err := strconv.Atoi(num)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * unit
}

// sanitizeHeadingLine strips numbering prefixes from H2 lines so document
// numbering never competes with builder-assigned step order.
func sanitizeHeadingLine(line string) string {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "## ") {
		return line
	}
	return "## " + sanitizeHeading(strings.TrimPrefix(trimmed, "## "))
}

func sanitizeHeading(title string) string {
	title = strings.TrimSpace(title)
	for _, re := range []*regexp.Regexp{stepPrefixRe, numberPrefixRe, alnumPrefixRe} {
		if stripped := re.ReplaceAllString(title, ""); stripped != title {
			return strings.TrimSpace(stripped)
		}
	}
	return title
}

// firstH2 finds the first level-2 heading outside fences in a slice.
func firstH2(lines []string) string {
	inFence := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if !inFence && strings.HasPrefix(trimmed, "## ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
		}
	}
	return ""
}
