// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/telemetry"
)

// RegisterRoutes registers all sentinel routes with the router.
//
// Description:
//
//	Registers the evaluation, health, and metrics endpoints.
//
// Endpoints:
//
//	POST /v1/evaluate - Evaluate a subject and return a verdict
//	GET  /healthz - Health check
//	GET  /metrics - Prometheus metrics (404 until telemetry.Init runs)
//
// Example:
//
//	e, _ := engine.New(cfg)
//	router := gin.New()
//	router.Use(handlers.RequestLogger(slog.Default()))
//	handlers.RegisterRoutes(router, handlers.NewHandlers(e))
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	v1 := router.Group("/v1")
	{
		v1.POST("/evaluate", h.HandleEvaluate)
	}

	router.GET("/healthz", h.HandleHealth)
	router.GET("/metrics", func(c *gin.Context) {
		mh := telemetry.MetricsHandler()
		if mh == nil {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "metrics exporter not initialized",
				Code:  "METRICS_DISABLED",
			})
			return
		}
		mh.ServeHTTP(c.Writer, c.Request)
	})
}
