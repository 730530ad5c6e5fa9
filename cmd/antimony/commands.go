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
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Each call returns an independent
// tree so tests can run commands side by side.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "antimony",
		Short: "Convert and annotate Antimony models with the Antimony language server",
		Long: `antimony starts the Antimony language server with the configured Python
interpreter and runs its model conversions and annotation lookups from the
terminal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.settingsPath, "settings", "", "settings file (default ~/.antimony/settings.yaml)")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error (default from settings)")
	pf.StringVar(&flags.logDir, "log-dir", "", "also write JSON logs to this directory")
	pf.StringVar(&flags.output, "output", "", "output style: rich, plain or json (default detected)")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	pf.StringVar(&flags.traceExporter, "trace", "", "trace exporter: stdout, otlp or none")
	pf.StringVar(&flags.extensionRoot, "extension-root", "", "directory holding src/server/main.py (default $"+EnvExtensionRoot+" or the working directory)")

	// --- Workflows ---
	var convertTo, convertOut string
	convertCmd := &cobra.Command{
		Use:   "convert [file]",
		Short: "Convert a model between Antimony and SBML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, flags, args[0], convertTo, convertOut)
		},
	}
	convertCmd.Flags().StringVar(&convertTo, "to", "sbml", "target format: sbml or antimony")
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "", "output folder (prompted if empty)")

	var annotateEntity, annotateQuery string
	annotateCmd := &cobra.Command{
		Use:   "annotate [file]",
		Short: "Look up an entity in a biological database and append an annotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnnotate(cmd, flags, args[0], annotateEntity, annotateQuery)
		},
	}
	annotateCmd.Flags().StringVarP(&annotateEntity, "entity", "e", "", "entity to annotate; its first occurrence is selected")
	annotateCmd.Flags().StringVarP(&annotateQuery, "query", "q", "", "initial search text (default the entity)")

	var sessionWatch bool
	sessionCmd := &cobra.Command{
		Use:   "session [file]",
		Short: "Keep the language server running and choose commands interactively",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 1 {
				file = args[0]
			}
			return runSession(cmd, flags, file, sessionWatch)
		},
	}
	sessionCmd.Flags().BoolVar(&sessionWatch, "watch", true, "restart the server when the settings file changes")

	// --- Diagnostics ---
	var checkServer bool
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check the configured Python interpreter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, flags, checkServer)
		},
	}
	checkCmd.Flags().BoolVar(&checkServer, "server", false, "also start the language server and wait until it is ready")

	lensCmd := &cobra.Command{
		Use:   "lens [file]",
		Short: "Show the code lenses for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLens(cmd, flags, args[0])
		},
	}

	// --- Settings ---
	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the antimony settings",
	}
	settingsShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsShow(cmd, flags)
		},
	}
	settingsSetCmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Change one setting, e.g. set pythonInterpreter /usr/bin/python3.11",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsSet(cmd, flags, args[0], args[1])
		},
	}
	settingsPathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the settings file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettingsPath(cmd, flags)
		},
	}
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd, settingsPathCmd)

	rootCmd.AddCommand(convertCmd, annotateCmd, sessionCmd, checkCmd, lensCmd, settingsCmd)
	return rootCmd
}
