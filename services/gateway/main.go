// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianChat/services/gateway/config"
	"github.com/AleutianAI/AleutianChat/services/gateway/handlers"
	"github.com/AleutianAI/AleutianChat/services/gateway/observability"
	"github.com/AleutianAI/AleutianChat/services/gateway/routes"
	"github.com/AleutianAI/AleutianChat/services/gateway/session"
	"github.com/AleutianAI/AleutianChat/services/gateway/stream"
	"github.com/AleutianAI/AleutianChat/services/gateway/ttl"
	"github.com/AleutianAI/AleutianChat/services/llm"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

// version is stamped via -ldflags at build time.
var version = "dev"

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	// Get the collector URL from the env var we set in podman-compose.yml
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chat-gateway")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildLLMClient selects and wraps a completion backend.
//
// Single-model engines (llama.cpp, Ollama on one GPU) are serialized so
// concurrent requests queue instead of thrashing the KV cache. OpenAI
// handles its own concurrency server-side.
func buildLLMClient(backendType string) (llm.LLMClient, error) {
	switch backendType {
	case "local":
		client, err := llm.NewLocalLlamaCppClient()
		if err != nil {
			return nil, err
		}
		slog.Info("Using Local Llama.cpp LLM backend")
		return llm.NewSerializedClient(client), nil
	case "ollama":
		client, err := llm.NewOllamaClient()
		if err != nil {
			return nil, err
		}
		slog.Info("Using Ollama LLM backend")
		return llm.NewSerializedClient(client), nil
	case "openai":
		client, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, err
		}
		slog.Info("Using OpenAI LLM backend")
		return client, nil
	default:
		slog.Warn("LLM_BACKEND_TYPE not set or invalid, defaulting to local",
			"requested", backendType)
		client, err := llm.NewLocalLlamaCppClient()
		if err != nil {
			return nil, err
		}
		return llm.NewSerializedClient(client), nil
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	log.Println("Configuring the LLM Client")
	llmClient, err := buildLLMClient(cfg.BackendType)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	// Startup probe: fail fast if the engine can't answer before we accept
	// traffic.
	probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
	probeTokens := 5
	if _, err := llmClient.Generate(probeCtx, "Test", llm.GenerationParams{
		MaxTokens: &probeTokens,
	}); err != nil {
		probeCancel()
		log.Fatalf("Completion engine failed startup probe: %v", err)
	}
	probeCancel()
	slog.Info("Completion engine answered startup probe")

	observability.InitMetrics()

	store := session.NewMemoryStore(session.StoreConfig{
		EmptySessionGrace: cfg.EmptySessionGrace,
	})
	adapter := stream.NewAdapter(llmClient)

	sweeper := ttl.NewSweeper(store, cfg.SessionMaxAge, ttl.NewClockChecker())
	scheduler := ttl.NewScheduler(sweeper, ttl.SchedulerConfig{Interval: cfg.SweepInterval})
	if err := scheduler.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start session sweep scheduler: %v", err)
	}
	defer scheduler.Stop()

	chatHandler := handlers.NewChatStreamHandler(store, adapter, sweeper,
		cfg.SystemPrompt, cfg.WindowTurns, cfg.Params())
	miscHandler := handlers.NewMiscHandler(store, llmClient,
		cfg.PersonaName, os.Getenv("MODEL_NAME"), version)

	router := gin.Default()
	router.Use(otelgin.Middleware("chat-gateway"))

	routes.SetupRoutes(router, miscHandler, chatHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Println("Starting the chat gateway on", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
