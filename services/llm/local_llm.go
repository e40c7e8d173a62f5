// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// Struct Definition
// =============================================================================

// LocalLlamaCppClient talks to a llama.cpp HTTP server's /completion endpoint.
//
// # Description
//
// The llama.cpp server holds the model weights; this client only shapes
// requests and parses responses. Engine-level knobs (context window, thread
// count, batch size, GPU offload) are read from the environment once at
// construction and forwarded opaquely on every request.
//
// # Limitations
//
//   - A llama.cpp server loaded with a single model serves one generation
//     at a time well. Wrap with NewSerializedClient in the gateway.
type LocalLlamaCppClient struct {
	httpClient *http.Client
	baseURL    string
	engine     engineOptions
}

// engineOptions are llama.cpp server knobs forwarded verbatim. Zero values
// are omitted from the payload so the server's own defaults apply.
type engineOptions struct {
	NCtx       int `json:"n_ctx,omitempty"`
	NThreads   int `json:"n_threads,omitempty"`
	NBatch     int `json:"n_batch,omitempty"`
	NGpuLayers int `json:"n_gpu_layers,omitempty"`
}

type localCompletionPayload struct {
	Prompt        string   `json:"prompt"`
	NPredict      int      `json:"n_predict"`
	Temperature   *float32 `json:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float32 `json:"top_p,omitempty"`
	RepeatPenalty *float32 `json:"repeat_penalty,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Stream        bool     `json:"stream"`
	engineOptions
}

type llamaCppResp struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// =============================================================================
// Constructor
// =============================================================================

// NewLocalLlamaCppClient builds a client from the environment.
//
// # Inputs (environment)
//
//   - LLM_SERVICE_URL_BASE: Required. Base URL of the llama.cpp server.
//   - LLAMA_N_CTX, LLAMA_N_THREADS, LLAMA_N_BATCH, LLAMA_N_GPU_LAYERS:
//     Optional engine knobs, forwarded on each request when set.
//
// # Outputs
//
//   - *LocalLlamaCppClient: Ready client.
//   - error: Non-nil when the base URL is missing.
func NewLocalLlamaCppClient() (*LocalLlamaCppClient, error) {
	baseURL := os.Getenv("LLM_SERVICE_URL_BASE")
	if baseURL == "" {
		return nil, fmt.Errorf("LLM_SERVICE_URL_BASE environment variable not set")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	engine := engineOptions{
		NCtx:       envInt("LLAMA_N_CTX", 0),
		NThreads:   envInt("LLAMA_N_THREADS", 0),
		NBatch:     envInt("LLAMA_N_BATCH", 0),
		NGpuLayers: envInt("LLAMA_N_GPU_LAYERS", 0),
	}
	slog.Info("Initializing llama.cpp client", "base_url", baseURL)
	return &LocalLlamaCppClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		engine:     engine,
	}, nil
}

// envInt reads an integer environment variable, warning on malformed values.
func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Ignoring malformed integer environment variable",
			"key", key, "value", raw)
		return fallback
	}
	return value
}

// =============================================================================
// Methods
// =============================================================================

// buildPayload maps GenerationParams onto the llama.cpp request shape.
func (l *LocalLlamaCppClient) buildPayload(prompt string, params GenerationParams,
	stream bool) localCompletionPayload {

	payload := localCompletionPayload{
		Prompt:        prompt,
		Temperature:   params.Temperature,
		TopK:          params.TopK,
		TopP:          params.TopP,
		RepeatPenalty: params.RepeatPenalty,
		Stop:          params.Stop,
		Stream:        stream,
		engineOptions: l.engine,
	}
	if params.MaxTokens != nil {
		payload.NPredict = *params.MaxTokens
	} else {
		payload.NPredict = 512
	}
	return payload
}

// Generate implements the LLMClient interface.
func (l *LocalLlamaCppClient) Generate(ctx context.Context, prompt string,
	params GenerationParams) (string, error) {

	completionURL := l.baseURL + "/completion"
	payload := l.buildPayload(prompt, params, false)

	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal the payload: %w", err)
	}
	slog.Debug("Calling llama.cpp Generate", "url", completionURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completionURL,
		bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request to llama.cpp: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make a request to the llm: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read the llm's response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Error("llama.cpp returned an error",
			"status_code", resp.StatusCode, "response", string(body))
		return "", fmt.Errorf("llama.cpp failed with status %d: %s",
			resp.StatusCode, string(body))
	}
	var llmResponseBody llamaCppResp
	if err := json.Unmarshal(body, &llmResponseBody); err != nil {
		return "", fmt.Errorf("failed to parse the llm response: %w", err)
	}
	return llmResponseBody.Content, nil
}

// GenerateStream implements the LLMClient interface.
//
// # Description
//
// Posts with stream=true and reads the server's SSE response line by line.
// Each payload line looks like:
//
//	data: {"content":"Hel","stop":false}
//
// Fragments with empty content are skipped. The stream ends when a payload
// carries stop=true or the body closes.
func (l *LocalLlamaCppClient) GenerateStream(ctx context.Context, prompt string,
	params GenerationParams, callback StreamCallback) error {

	completionURL := l.baseURL + "/completion"
	payload := l.buildPayload(prompt, params, true)

	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal the payload: %w", err)
	}
	slog.Debug("Calling llama.cpp GenerateStream", "url", completionURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, completionURL,
		bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request to llama.cpp: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make a request to the llm: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("llama.cpp returned an error",
			"status_code", resp.StatusCode, "response", string(body))
		return fmt.Errorf("llama.cpp failed with status %d: %s",
			resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		var chunk llamaCppResp
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			slog.Warn("Skipping malformed stream line from llama.cpp", "error", err)
			continue
		}
		if chunk.Content != "" {
			if err := callback(StreamEvent{Type: StreamEventToken, Content: chunk.Content}); err != nil {
				return fmt.Errorf("stream callback aborted: %w", err)
			}
		}
		if chunk.Stop {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to read the llm's stream: %w", err)
	}
	return nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ LLMClient = (*LocalLlamaCppClient)(nil)
