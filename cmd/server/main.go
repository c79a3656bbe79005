// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kairos-ai/kairos/internal/config"
	"github.com/kairos-ai/kairos/internal/embedding"
	"github.com/kairos-ai/kairos/internal/engine"
	"github.com/kairos-ai/kairos/internal/kv"
	"github.com/kairos-ai/kairos/internal/logger"
	"github.com/kairos-ai/kairos/internal/memory"
	"github.com/kairos-ai/kairos/internal/proof"
	"github.com/kairos-ai/kairos/internal/server"
	"github.com/kairos-ai/kairos/internal/vectorstore"
)

func main() {
	cfg, err := config.NewConfig(os.Getenv("KAIROS_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseGlobal()

	mainLog := logger.GetLogger("main")
	mainLog.Info().Msg("Starting kairos API server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Backing services.
	vs := vectorstore.New(&cfg.Vector, cfg.Embedding.Dim)
	emb := embedding.New(&cfg.Embedding)
	kvs, err := kv.NewRedis(&cfg.KV)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error connecting to Redis")
		fmt.Fprintf(os.Stderr, "Error connecting to Redis: %v\n", err)
		os.Exit(1)
	}
	defer kvs.Close()

	if err := vs.WaitReady(ctx, cfg.Vector.ReadyAttempts, cfg.Vector.ReadyInterval); err != nil {
		mainLog.Error().Err(err).Msg("Vector store never became ready")
		fmt.Fprintf(os.Stderr, "Vector store never became ready: %v\n", err)
		os.Exit(1)
	}
	if err := vs.EnsureCollection(ctx); err != nil {
		mainLog.Error().Err(err).Msg("Error ensuring collection")
		fmt.Fprintf(os.Stderr, "Error ensuring collection: %v\n", err)
		os.Exit(1)
	}
	if cfg.Snapshot.OnStart {
		if err := vs.Snapshot(ctx); err != nil {
			mainLog.Warn().Err(err).Msg("Startup snapshot failed, continuing")
		}
	}

	// Memory layer with cross-instance cache invalidation.
	mem, err := memory.NewStore(vs, emb, kvs)
	if err != nil {
		mainLog.Error().Err(err).Msg("Error creating memory store")
		fmt.Fprintf(os.Stderr, "Error creating memory store: %v\n", err)
		os.Exit(1)
	}
	go func() {
		if err := mem.RunInvalidationLoop(ctx); err != nil && ctx.Err() == nil {
			mainLog.Error().Err(err).Msg("Cache invalidation loop exited")
		}
	}()

	// Proof-of-work layer and execution engine.
	pstore := proof.NewStore(kvs, cfg.Engine.ProofTTL)
	proofs := proof.NewEngine(pstore, emb, cfg.Engine.MaxRetries, cfg.Engine.CommentSemanticThreshold)

	registry, broadcaster := server.NewBroadcaster()
	eng := engine.New(mem, proofs, pstore, kvs, cfg.Engine, broadcaster)

	if err := eng.SeedSystemMemories(ctx); err != nil {
		mainLog.Error().Err(err).Msg("Error seeding system memories")
		fmt.Fprintf(os.Stderr, "Error seeding system memories: %v\n", err)
		os.Exit(1)
	}

	srv := server.New(&cfg.Server, eng, registry, broadcaster)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- srv.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		mainLog.Info().Msgf("Received signal %v, shutting down...", sig)
	case err := <-serverErrChan:
		if err != nil {
			mainLog.Error().Err(err).Msg("Server error")
		}
	}

	// Graceful shutdown: fresh context with timeout, independent of the run ctx.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		mainLog.Error().Err(err).Msg("Error shutting down server")
	}

	cancel()
	mainLog.Info().Msg("API server shut down")
}
