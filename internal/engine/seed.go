// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"errors"

	"github.com/kairos-ai/kairos/internal/kairoserr"
	"github.com/kairos-ai/kairos/internal/memory"
	"github.com/kairos-ai/kairos/internal/uri"
)

const createNewBody = `You chose to create a new protocol.

Write a markdown document describing the procedure you just worked out:

1. One H1 heading naming the protocol.
2. One H2 heading per step, each followed by the instructions for that step.
3. Optionally, a fenced json block after a step with a challenge object, or a
   line "PROOF OF WORK: <command>" to require a shell proof.

Then call kairos_mint with the document so future runs can reuse it.`

const refineSearchBody = `You chose to refine your search.

The previous query did not match a stored protocol well. Re-run kairos_search
with a narrower query: name the tool, the action, and the context (for
example "deploy staging with helm" instead of "deploy"). Prefer words that
would appear in the protocol's headings.`

// SeedSystemMemories stores the built-in create-new and refine-search
// protocols under their reserved UUIDs. Existing points are left untouched.
func (e *Engine) SeedSystemMemories(ctx context.Context) error {
	seeds := []struct {
		rawURI string
		label  string
		body   string
	}{
		{uri.SentinelCreateNew, "Create a new protocol", createNewBody},
		{uri.SentinelRefineSearch, "Refine your search", refineSearchBody},
	}

	for _, seed := range seeds {
		id, err := uri.Parse(seed.rawURI)
		if err != nil {
			return err
		}
		if _, err := e.mem.Get(ctx, id, []string{e.cfg.DefaultSpace}); err == nil {
			continue
		} else if !errors.Is(err, &kairoserr.Error{Code: kairoserr.CodeNotFound}) {
			return err
		}

		step := &memory.Step{
			UUID:          id,
			Label:         seed.label,
			Text:          seed.body,
			CreatedAt:     memory.Now(),
			AuthorModelID: "system",
			SpaceID:       e.cfg.DefaultSpace,
			Type:          "system",
		}
		if err := e.mem.Put(ctx, step); err != nil {
			return err
		}
		getLog().Info().Str("uri", seed.rawURI).Msg("Seeded system memory")
	}
	return nil
}
