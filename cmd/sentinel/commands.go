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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSentinel/services/sentinel/handlers"
)

// --- Global Command Variables ---
var (
	configPath string

	// serve flags
	serveAddr string

	// evaluate flags
	subjectID   string
	subjectKind string
	content     string
	attrs       []string
	subjectFile string
	jsonOutput  bool

	rootCmd = &cobra.Command{
		Use:   "sentinel",
		Short: "Evidence-fusion decision engine",
		Long: `Sentinel runs detector waves over a subject, fuses their
signals into a score, and applies a deterministic threshold ladder to
produce an actionable verdict.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the sentinel HTTP service",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	evaluateCmd = &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a single subject and print the verdict",
		RunE:  runEvaluate, // Defined in cmd_evaluate.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the sentinel version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("sentinel", handlers.ServiceVersion)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to a YAML config file")

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080",
		"listen address for the HTTP service")

	evaluateCmd.Flags().StringVar(&subjectID, "subject-id", "",
		"identifier of the subject to evaluate")
	evaluateCmd.Flags().StringVar(&subjectKind, "kind", "",
		"subject kind (login, payment, message, ...)")
	evaluateCmd.Flags().StringVar(&content, "content", "",
		"free-form subject content for detectors to scan")
	evaluateCmd.Flags().StringSliceVar(&attrs, "attr", nil,
		"subject attribute as key=value (repeatable)")
	evaluateCmd.Flags().StringVar(&subjectFile, "file", "",
		"JSON file describing the subject (overrides the other subject flags)")
	evaluateCmd.Flags().BoolVar(&jsonOutput, "json", false,
		"print the verdict as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(evaluateCmd)
	rootCmd.AddCommand(versionCmd)
}
