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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSentinel/pkg/logging"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/engine"
	"github.com/AleutianAI/AleutianSentinel/services/sentinel/proposer"
)

// subjectDoc is the JSON shape accepted by --file.
type subjectDoc struct {
	SubjectID     string            `json:"subject_id"`
	Kind          string            `json:"kind"`
	Content       string            `json:"content"`
	Attributes    map[string]string `json:"attributes"`
	CorrelationID string            `json:"correlation_id"`
}

// runEvaluate performs a one-shot evaluation and prints the verdict.
func runEvaluate(cmd *cobra.Command, args []string) error {
	subject, err := buildSubject()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   logging.LevelWarn, // keep the verdict as the only stdout output
		Service: "sentinel",
	})
	defer logger.Close()

	cfg, err := engine.LoadConfig(configPath)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg, engine.WithLogger(logger.Slog()))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	verdict, err := eng.Evaluate(ctx, subject)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	if jsonOutput {
		out, err := json.MarshalIndent(verdict, "", "  ")
		if err != nil {
			return fmt.Errorf("encode verdict: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("Decision:    %s\n", verdict.Decision)
	fmt.Printf("Score:       %.3f\n", verdict.Score)
	fmt.Printf("Confidence:  %.3f\n", verdict.Confidence)
	fmt.Printf("Band:        %s\n", verdict.Band)
	fmt.Printf("Rule:        %s (%s)\n", verdict.TriggeredBy, verdict.Reason)
	if verdict.EarlyExit {
		fmt.Printf("Early exit:  %s\n", verdict.EarlyExitClassification)
	}
	if len(verdict.ContributingProposers) > 0 {
		fmt.Printf("Detectors:   %s\n", strings.Join(verdict.ContributingProposers, ", "))
	}
	fmt.Printf("Signals:     %d\n", verdict.SignalCount)
	if verdict.Cached {
		fmt.Println("Served from verdict cache.")
	}
	return nil
}

// buildSubject assembles the subject from --file or the subject flags.
func buildSubject() (*proposer.Subject, error) {
	if subjectFile != "" {
		data, err := os.ReadFile(subjectFile)
		if err != nil {
			return nil, fmt.Errorf("read subject file: %w", err)
		}
		var doc subjectDoc
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse subject file: %w", err)
		}
		if doc.SubjectID == "" {
			return nil, fmt.Errorf("subject file must set subject_id")
		}
		return &proposer.Subject{
			ID:            doc.SubjectID,
			Kind:          doc.Kind,
			Content:       doc.Content,
			Attributes:    doc.Attributes,
			CorrelationID: doc.CorrelationID,
		}, nil
	}

	if subjectID == "" {
		return nil, fmt.Errorf("--subject-id or --file is required")
	}

	attributes := make(map[string]string, len(attrs))
	for _, a := range attrs {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --attr %q, expected key=value", a)
		}
		attributes[k] = v
	}

	return &proposer.Subject{
		ID:         subjectID,
		Kind:       subjectKind,
		Content:    content,
		Attributes: attributes,
	}, nil
}
