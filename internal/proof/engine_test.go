// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package proof

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairos-ai/kairos/internal/kairoserr"
	"github.com/kairos-ai/kairos/internal/memory"
	"github.com/kairos-ai/kairos/test/testutil"
)

func newTestEngine(t *testing.T) (*Engine, *Store, *testutil.FakeEmbedder) {
	t.Helper()
	kvs := testutil.NewMemoryKV()
	store := NewStore(kvs, 0)
	emb := testutil.NewFakeEmbedder()
	return NewEngine(store, emb, 3, 0.25), store, emb
}

func shellStep(t *testing.T, required bool) *memory.Step {
	t.Helper()
	return &memory.Step{
		UUID:  uuid.New(),
		Label: "Run the build",
		Text:  "Run make in the repository root and confirm the build finishes.",
		ProofDef: &memory.ProofDef{
			Type:     memory.ProofShell,
			Required: required,
			Shell:    &memory.ShellProofDef{Cmd: "make", TimeoutSeconds: 60},
		},
	}
}

func commentStep(t *testing.T) *memory.Step {
	t.Helper()
	return &memory.Step{
		UUID:  uuid.New(),
		Label: "Run the tests",
		Text:  "Run make test and confirm every test in the suite passes.",
		ProofDef: &memory.ProofDef{
			Type:     memory.ProofComment,
			Required: true,
			Comment:  &memory.CommentProofDef{MinLength: 10},
		},
	}
}

func intPtr(n int) *int { return &n }

func TestBuildChallenge(t *testing.T) {
	ctx := context.Background()
	eng, store, _ := newTestEngine(t)

	t.Run("shell", func(t *testing.T) {
		step := shellStep(t, true)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		assert.Equal(t, memory.ProofShell, ch.Type)
		assert.Equal(t, GenesisHash, ch.ProofHash)
		assert.Len(t, ch.Nonce, 32)
		require.NotNil(t, ch.Shell)
		assert.Equal(t, "make", ch.Shell.Cmd)
		assert.Contains(t, ch.Description, "make")

		stored, err := store.GetNonce(ctx, step.UUID)
		require.NoError(t, err)
		assert.Equal(t, ch.Nonce, stored)
	})

	t.Run("fresh nonce per challenge", func(t *testing.T) {
		step := shellStep(t, true)
		ch1, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)
		ch2, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)
		assert.NotEqual(t, ch1.Nonce, ch2.Nonce)
	})

	t.Run("missing proof def falls back to optional confirmation", func(t *testing.T) {
		step := &memory.Step{UUID: uuid.New(), Label: "Wrap up", Text: "Summarize what was done."}
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)
		assert.Equal(t, memory.ProofUserInput, ch.Type)
		require.NotNil(t, ch.UserInput)
	})
}

func TestValidateShell(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts exit zero", func(t *testing.T) {
		eng, store, _ := newTestEngine(t)
		step := shellStep(t, true)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofShell,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Shell:     &ShellSolution{ExitCode: intPtr(0), Stdout: "ok"},
		}, GenesisHash)
		require.NoError(t, err)
		require.True(t, out.Accepted)
		assert.Len(t, out.ProofHash, 64)

		rec, err := store.GetResult(ctx, step.UUID)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, StatusSuccess, rec.Status)

		// Nonce is single-use.
		n, err := store.GetNonce(ctx, step.UUID)
		require.NoError(t, err)
		assert.Empty(t, n)
	})

	t.Run("required failure blocks", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := shellStep(t, true)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofShell,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Shell:     &ShellSolution{ExitCode: intPtr(2), Stderr: "boom"},
		}, GenesisHash)
		require.NoError(t, err)
		require.NotNil(t, out.Blocked)
		assert.True(t, out.Blocked.MustObey)
		assert.Equal(t, string(kairoserr.CodeCommandFailed), out.Blocked.ErrorCode)
		require.NotNil(t, out.Blocked.Challenge)
		assert.NotEqual(t, ch.Nonce, out.Blocked.Challenge.Nonce)
	})

	t.Run("optional failure is recorded and accepted", func(t *testing.T) {
		eng, store, _ := newTestEngine(t)
		step := shellStep(t, false)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofShell,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Shell:     &ShellSolution{ExitCode: intPtr(1)},
		}, GenesisHash)
		require.NoError(t, err)
		require.True(t, out.Accepted)

		rec, err := store.GetResult(ctx, step.UUID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, rec.Status)
	})

	t.Run("missing exit code", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := shellStep(t, true)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofShell,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Shell:     &ShellSolution{Stdout: "ok"},
		}, GenesisHash)
		require.NoError(t, err)
		require.NotNil(t, out.Blocked)
		assert.Equal(t, string(kairoserr.CodeMissingField), out.Blocked.ErrorCode)
	})
}

func TestValidateChainChecks(t *testing.T) {
	ctx := context.Background()

	t.Run("nonce mismatch", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := shellStep(t, true)
		_, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofShell,
			Nonce:     "deadbeefdeadbeefdeadbeefdeadbeef",
			ProofHash: GenesisHash,
			Shell:     &ShellSolution{ExitCode: intPtr(0)},
		}, GenesisHash)
		require.NoError(t, err)
		require.NotNil(t, out.Blocked)
		assert.Equal(t, string(kairoserr.CodeNonceMismatch), out.Blocked.ErrorCode)
	})

	t.Run("replayed nonce is rejected", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := shellStep(t, true)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		sol := &Solution{
			Type:      memory.ProofShell,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Shell:     &ShellSolution{ExitCode: intPtr(0)},
		}
		out, err := eng.Validate(ctx, step, sol, GenesisHash)
		require.NoError(t, err)
		require.True(t, out.Accepted)

		out, err = eng.Validate(ctx, step, sol, GenesisHash)
		require.NoError(t, err)
		require.NotNil(t, out.Blocked)
		assert.Equal(t, string(kairoserr.CodeNonceMismatch), out.Blocked.ErrorCode)
	})

	t.Run("missing proof hash", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := shellStep(t, true)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:  memory.ProofShell,
			Nonce: ch.Nonce,
			Shell: &ShellSolution{ExitCode: intPtr(0)},
		}, GenesisHash)
		require.NoError(t, err)
		require.NotNil(t, out.Blocked)
		assert.Equal(t, string(kairoserr.CodeMissingField), out.Blocked.ErrorCode)
	})

	t.Run("wrong proof hash", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := shellStep(t, true)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofShell,
			Nonce:     ch.Nonce,
			ProofHash: "0000000000000000000000000000000000000000000000000000000000000000",
			Shell:     &ShellSolution{ExitCode: intPtr(0)},
		}, GenesisHash)
		require.NoError(t, err)
		require.NotNil(t, out.Blocked)
		assert.Equal(t, string(kairoserr.CodeProofHashMismatch), out.Blocked.ErrorCode)
	})

	t.Run("deprecated hash field still accepted", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := shellStep(t, true)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:              memory.ProofShell,
			Nonce:             ch.Nonce,
			PreviousProofHash: GenesisHash,
			Shell:             &ShellSolution{ExitCode: intPtr(0)},
		}, GenesisHash)
		require.NoError(t, err)
		assert.True(t, out.Accepted)
	})

	t.Run("type mismatch", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := shellStep(t, true)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofComment,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Comment:   &CommentSolution{Text: "I ran the build successfully"},
		}, GenesisHash)
		require.NoError(t, err)
		require.NotNil(t, out.Blocked)
		assert.Equal(t, string(kairoserr.CodeTypeMismatch), out.Blocked.ErrorCode)
	})
}

func TestValidateComment(t *testing.T) {
	ctx := context.Background()

	t.Run("too short", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := commentStep(t)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofComment,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Comment:   &CommentSolution{Text: "ok"},
		}, GenesisHash)
		require.NoError(t, err)
		require.NotNil(t, out.Blocked)
		assert.Equal(t, string(kairoserr.CodeCommentTooShort), out.Blocked.ErrorCode)
	})

	t.Run("irrelevant comment", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := commentStep(t)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofComment,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Comment:   &CommentSolution{Text: "bananas oranges elephants umbrella zeppelin"},
		}, GenesisHash)
		require.NoError(t, err)
		require.NotNil(t, out.Blocked)
		assert.Equal(t, string(kairoserr.CodeCommentIrrelevant), out.Blocked.ErrorCode)
	})

	t.Run("relevant comment accepted", func(t *testing.T) {
		eng, _, _ := newTestEngine(t)
		step := commentStep(t)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofComment,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Comment:   &CommentSolution{Text: "I ran make test and every test in the suite passes"},
		}, GenesisHash)
		require.NoError(t, err)
		assert.True(t, out.Accepted)
	})

	t.Run("embedding outage fails open", func(t *testing.T) {
		eng, _, emb := newTestEngine(t)
		step := commentStep(t)
		ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
		require.NoError(t, err)

		emb.FailWith = assert.AnError
		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofComment,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Comment:   &CommentSolution{Text: "bananas oranges elephants umbrella zeppelin"},
		}, GenesisHash)
		require.NoError(t, err)
		assert.True(t, out.Accepted)
	})
}

func TestTruncateForEmbed(t *testing.T) {
	t.Run("short input untouched", func(t *testing.T) {
		assert.Equal(t, "héllo", truncateForEmbed("héllo", 10))
	})

	t.Run("cuts on a rune boundary", func(t *testing.T) {
		// One ASCII char followed by two-byte runes, so a byte-indexed cut
		// at any even offset would land mid-rune.
		in := "a" + strings.Repeat("é", 20)
		out := truncateForEmbed(in, 8)
		assert.True(t, utf8.ValidString(out))
		assert.Equal(t, 8, utf8.RuneCountInString(out))
		assert.Equal(t, "aééééééé", out)
	})

	t.Run("exact length untouched", func(t *testing.T) {
		in := strings.Repeat("é", 8)
		assert.Equal(t, in, truncateForEmbed(in, 8))
	})
}

func TestRetryEscalation(t *testing.T) {
	ctx := context.Background()
	eng, store, _ := newTestEngine(t)
	step := shellStep(t, true)

	ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
	require.NoError(t, err)

	// Three failures stay within the budget and keep ordering a retry.
	for i := 1; i <= 3; i++ {
		out, err := eng.Validate(ctx, step, &Solution{
			Type:      memory.ProofShell,
			Nonce:     ch.Nonce,
			ProofHash: GenesisHash,
			Shell:     &ShellSolution{ExitCode: intPtr(1)},
		}, GenesisHash)
		require.NoError(t, err)
		require.NotNil(t, out.Blocked)
		assert.True(t, out.Blocked.MustObey)
		assert.Equal(t, i, out.Blocked.RetryCount)
		require.NotNil(t, out.Blocked.Challenge)
		assert.Contains(t, out.Blocked.NextAction, "kairos://mem/"+step.UUID.String())
		ch = out.Blocked.Challenge
	}

	// Fourth failure hands control back.
	out, err := eng.Validate(ctx, step, &Solution{
		Type:      memory.ProofShell,
		Nonce:     ch.Nonce,
		ProofHash: GenesisHash,
		Shell:     &ShellSolution{ExitCode: intPtr(1)},
	}, GenesisHash)
	require.NoError(t, err)
	require.NotNil(t, out.Blocked)
	assert.False(t, out.Blocked.MustObey)
	assert.Equal(t, string(kairoserr.CodeMaxRetriesExceeded), out.Blocked.ErrorCode)
	assert.Equal(t, 4, out.Blocked.RetryCount)
	assert.Nil(t, out.Blocked.Challenge)
	assert.Contains(t, out.Blocked.NextAction, "kairos_update")
	assert.Contains(t, out.Blocked.NextAction, "kairos_attest")

	// Success resets the counter.
	ch, err = eng.BuildChallenge(ctx, step, GenesisHash)
	require.NoError(t, err)
	out, err = eng.Validate(ctx, step, &Solution{
		Type:      memory.ProofShell,
		Nonce:     ch.Nonce,
		ProofHash: GenesisHash,
		Shell:     &ShellSolution{ExitCode: intPtr(0)},
	}, GenesisHash)
	require.NoError(t, err)
	require.True(t, out.Accepted)

	n, err := store.GetRetry(ctx, step.UUID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepeatedSuccessReturnsSameHash(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)
	step := shellStep(t, true)

	ch, err := eng.BuildChallenge(ctx, step, GenesisHash)
	require.NoError(t, err)
	first, err := eng.Validate(ctx, step, &Solution{
		Type:      memory.ProofShell,
		Nonce:     ch.Nonce,
		ProofHash: GenesisHash,
		Shell:     &ShellSolution{ExitCode: intPtr(0)},
	}, GenesisHash)
	require.NoError(t, err)
	require.True(t, first.Accepted)

	// A second accepted submission under a fresh challenge must not fork
	// the chain: the stored hash is reused.
	ch, err = eng.BuildChallenge(ctx, step, GenesisHash)
	require.NoError(t, err)
	second, err := eng.Validate(ctx, step, &Solution{
		Type:      memory.ProofShell,
		Nonce:     ch.Nonce,
		ProofHash: GenesisHash,
		Shell:     &ShellSolution{ExitCode: intPtr(0), Stdout: "different output"},
	}, GenesisHash)
	require.NoError(t, err)
	require.True(t, second.Accepted)
	assert.Equal(t, first.ProofHash, second.ProofHash)
}

func TestHashChainAcrossSteps(t *testing.T) {
	ctx := context.Background()
	eng, _, _ := newTestEngine(t)

	step1 := shellStep(t, true)
	step2 := commentStep(t)

	ch1, err := eng.BuildChallenge(ctx, step1, GenesisHash)
	require.NoError(t, err)
	out1, err := eng.Validate(ctx, step1, &Solution{
		Type:      memory.ProofShell,
		Nonce:     ch1.Nonce,
		ProofHash: GenesisHash,
		Shell:     &ShellSolution{ExitCode: intPtr(0)},
	}, GenesisHash)
	require.NoError(t, err)
	require.True(t, out1.Accepted)

	// Step 2's challenge carries step 1's hash, and its solution must echo it.
	ch2, err := eng.BuildChallenge(ctx, step2, out1.ProofHash)
	require.NoError(t, err)
	assert.Equal(t, out1.ProofHash, ch2.ProofHash)

	out2, err := eng.Validate(ctx, step2, &Solution{
		Type:      memory.ProofComment,
		Nonce:     ch2.Nonce,
		ProofHash: out1.ProofHash,
		Comment:   &CommentSolution{Text: "ran make test and the suite passes"},
	}, out1.ProofHash)
	require.NoError(t, err)
	require.True(t, out2.Accepted)
	assert.NotEqual(t, out1.ProofHash, out2.ProofHash)

	// Carrying genesis instead of step 1's hash is a fork attempt.
	ch2b, err := eng.BuildChallenge(ctx, step2, out1.ProofHash)
	require.NoError(t, err)
	out, err := eng.Validate(ctx, step2, &Solution{
		Type:      memory.ProofComment,
		Nonce:     ch2b.Nonce,
		ProofHash: GenesisHash,
		Comment:   &CommentSolution{Text: "ran make test and the suite passes"},
	}, out1.ProofHash)
	require.NoError(t, err)
	require.NotNil(t, out.Blocked)
	assert.Equal(t, string(kairoserr.CodeProofHashMismatch), out.Blocked.ErrorCode)
}
