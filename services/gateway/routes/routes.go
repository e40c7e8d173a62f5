// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianChat/services/gateway/handlers"
)

// SetupRoutes registers all gateway routes with the router.
//
// # Description
//
// Endpoints:
//
//	GET  /            - Gateway identity and live session count
//	GET  /health      - End-to-end engine probe
//	GET  /metrics     - Prometheus metrics
//	POST /v1/chat/stream - SSE streaming chat
//
// # Inputs
//
//   - router: Gin engine with middleware already applied.
//   - misc: Status and health handlers. Must not be nil.
//   - chat: Streaming chat handler. Must not be nil.
func SetupRoutes(router *gin.Engine, misc *handlers.MiscHandler, chat handlers.ChatStreamHandler) {
	router.GET("/", misc.HandleStatus)
	router.GET("/health", misc.HandleHealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat/stream", chat.HandleChatStream)
	}
}
