// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the evaluation engine over HTTP.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/engine"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/proposer"
)

// ServiceVersion is the sentinel service version.
const ServiceVersion = "0.1.0"

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	// SubjectID identifies the thing being judged. Required.
	SubjectID string `json:"subject_id" binding:"required"`

	// Kind is the subject category ("login", "payment", "message").
	Kind string `json:"kind"`

	// Content is the free-form payload detectors scan.
	Content string `json:"content"`

	// Attributes are structured key/value facts about the subject.
	Attributes map[string]string `json:"attributes"`

	// CorrelationID threads the evaluation through caller logs.
	CorrelationID string `json:"correlation_id"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`
}

// Handlers contains the HTTP handlers for the sentinel service.
type Handlers struct {
	engine *engine.Engine
}

// NewHandlers creates handlers around the given engine.
func NewHandlers(e *engine.Engine) *Handlers {
	return &Handlers{engine: e}
}

// HandleEvaluate handles POST /v1/evaluate.
//
// Description:
//
//	Binds an EvaluateRequest, runs one evaluation session, and returns
//	the Verdict as JSON.
//
// Response:
//
//	200 OK: engine.Verdict
//	400 Bad Request: Validation error
//	504 Gateway Timeout: Evaluation exceeded the request deadline
//	500 Internal Server Error: Pipeline error
func (h *Handlers) HandleEvaluate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleEvaluate")

	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	subject := &proposer.Subject{
		ID:            req.SubjectID,
		Kind:          req.Kind,
		Content:       req.Content,
		Attributes:    req.Attributes,
		CorrelationID: req.CorrelationID,
	}

	verdict, err := h.engine.Evaluate(c.Request.Context(), subject)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "EVALUATION_FAILED"
		if errors.Is(err, context.DeadlineExceeded) {
			statusCode = http.StatusGatewayTimeout
			errCode = "EVALUATION_TIMEOUT"
		}
		logger.Error("Evaluation failed", "subject_id", req.SubjectID, "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Info("Evaluation served",
		"subject_id", verdict.SubjectID,
		"decision", verdict.Decision,
		"cached", verdict.Cached)
	c.JSON(http.StatusOK, verdict)
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: ServiceVersion,
	})
}

// getOrCreateRequestID returns the inbound X-Request-ID or mints one,
// echoing it on the response either way.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
