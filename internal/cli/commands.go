// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kairos-ai/kairos/internal/memory"
	"github.com/kairos-ai/kairos/internal/proof"
)

const requestTimeout = 60 * time.Second

func withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// commonFlags registers the flags shared by every command.
func commonFlags(fs *flag.FlagSet) (server, space *string) {
	server = fs.String("server", "", "Server address (default $KAIROS_SERVER or "+defaultServer+")")
	space = fs.String("space", "", "Memory space (default set by server)")
	return server, space
}

func searchCommand(args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	server, space := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	query := strings.Join(fs.Args(), " ")
	if query == "" {
		return fmt.Errorf("query required\n\nUsage:\n  kairos search \"<query>\"")
	}

	ctx, cancel := withTimeout()
	defer cancel()

	out, err := newClient(*server).post(ctx, "search", map[string]any{
		"query": query,
		"space": *space,
	})
	if err != nil {
		return err
	}
	return printJSON(out)
}

func beginCommand(args []string) error {
	fs := flag.NewFlagSet("begin", flag.ExitOnError)
	server, space := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("exactly one URI required\n\nUsage:\n  kairos begin <uri>")
	}

	ctx, cancel := withTimeout()
	defer cancel()

	out, err := newClient(*server).post(ctx, "begin", map[string]any{
		"uri":   fs.Arg(0),
		"space": *space,
	})
	if err != nil {
		return err
	}
	return printJSON(out)
}

func nextCommand(args []string) error {
	fs := flag.NewFlagSet("next", flag.ExitOnError)
	server, space := commonFlags(fs)
	nonce := fs.String("nonce", "", "Nonce from the current challenge")
	proofHash := fs.String("proof-hash", "", "Proof hash from the current challenge")
	proofType := fs.String("type", "", "Proof type (shell, mcp, user_input, comment); inferred when one payload flag is set")
	exitCode := fs.Int("exit-code", 0, "Shell proof: command exit code")
	stdout := fs.String("stdout", "", "Shell proof: captured stdout")
	comment := fs.String("comment", "", "Comment proof: free-text evidence")
	confirm := fs.String("confirm", "", "User-input proof: confirmation text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	exitSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "exit-code" {
			exitSet = true
		}
	})

	if fs.NArg() != 1 {
		return fmt.Errorf("exactly one URI required\n\nUsage:\n  kairos next <uri> --nonce <n> --proof-hash <h> [payload flags]")
	}

	sol := &proof.Solution{
		Type:      *proofType,
		Nonce:     *nonce,
		ProofHash: *proofHash,
	}
	switch {
	case exitSet:
		ec := *exitCode
		sol.Shell = &proof.ShellSolution{ExitCode: &ec, Stdout: *stdout}
		if sol.Type == "" {
			sol.Type = memory.ProofShell
		}
	case *comment != "":
		sol.Comment = &proof.CommentSolution{Text: *comment}
		if sol.Type == "" {
			sol.Type = memory.ProofComment
		}
	case *confirm != "":
		sol.UserInput = &proof.UserInputSolution{Confirmation: *confirm}
		if sol.Type == "" {
			sol.Type = memory.ProofUserInput
		}
	}

	ctx, cancel := withTimeout()
	defer cancel()

	out, err := newClient(*server).post(ctx, "next", map[string]any{
		"uri":      fs.Arg(0),
		"solution": sol,
		"space":    *space,
	})
	if err != nil {
		return err
	}
	return printJSON(out)
}

func attestCommand(args []string) error {
	fs := flag.NewFlagSet("attest", flag.ExitOnError)
	server, space := commonFlags(fs)
	outcome := fs.String("outcome", "", "Run outcome: success or failure")
	message := fs.String("message", "", "Free-text context for the rating")
	model := fs.String("model", "", "Model or agent identifier recorded as the rater")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("exactly one URI required\n\nUsage:\n  kairos attest <uri> --outcome success|failure")
	}
	if *outcome != "success" && *outcome != "failure" {
		return fmt.Errorf("--outcome must be success or failure")
	}

	ctx, cancel := withTimeout()
	defer cancel()

	out, err := newClient(*server).post(ctx, "attest", map[string]any{
		"uri":          fs.Arg(0),
		"outcome":      *outcome,
		"message":      *message,
		"llm_model_id": *model,
		"space":        *space,
	})
	if err != nil {
		return err
	}
	return printJSON(out)
}

func mintCommand(args []string) error {
	fs := flag.NewFlagSet("mint", flag.ExitOnError)
	server, space := commonFlags(fs)
	model := fs.String("model", "", "Model or agent identifier recorded as the author")
	force := fs.Bool("force", false, "Overwrite an existing chain with the same steps")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("exactly one markdown file required\n\nUsage:\n  kairos mint <file.md>")
	}

	doc, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}

	ctx, cancel := withTimeout()
	defer cancel()

	out, err := newClient(*server).post(ctx, "mint", map[string]any{
		"markdown_doc": string(doc),
		"llm_model_id": *model,
		"force_update": *force,
		"space":        *space,
	})
	if err != nil {
		return err
	}
	return printJSON(out)
}

func updateCommand(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	server, space := commonFlags(fs)
	file := fs.String("file", "", "Markdown file with the replacement body")
	label := fs.String("label", "", "New label")
	tags := fs.String("tags", "", "Comma-separated replacement tags")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		return fmt.Errorf("exactly one URI required\n\nUsage:\n  kairos update <uri> --file <file.md> | --label <l> | --tags <a,b>")
	}

	body := map[string]any{
		"uris":  []string{fs.Arg(0)},
		"space": *space,
	}
	if *file != "" {
		doc, err := os.ReadFile(*file)
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}
		body["markdown_doc"] = []string{string(doc)}
	} else {
		updates := map[string]any{}
		if *label != "" {
			updates["label"] = *label
		}
		if *tags != "" {
			updates["tags"] = strings.Split(*tags, ",")
		}
		if len(updates) == 0 {
			return fmt.Errorf("nothing to update: pass --file, --label, or --tags")
		}
		body["updates"] = updates
	}

	ctx, cancel := withTimeout()
	defer cancel()

	out, err := newClient(*server).post(ctx, "update", body)
	if err != nil {
		return err
	}
	return printJSON(out)
}

func deleteCommand(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	server, space := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() == 0 {
		return fmt.Errorf("at least one URI required\n\nUsage:\n  kairos delete <uri> [uri...]")
	}

	ctx, cancel := withTimeout()
	defer cancel()

	out, err := newClient(*server).post(ctx, "delete", map[string]any{
		"uris":  fs.Args(),
		"space": *space,
	})
	if err != nil {
		return err
	}
	return printJSON(out)
}
