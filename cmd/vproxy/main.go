// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main is the vproxy command: a reverse proxy that routes each HTTP
// connection to an upstream chosen by its Host header.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/absmach/vproxy"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// legacyFlags are long flags that may be written with a single dash.
var legacyFlags = map[string]bool{
	"domain": true,
	"lhost":  true,
	"lport":  true,
	"routes": true,
	"output": true,
}

func main() {
	root := newRootCmd()
	root.SetArgs(normalizeArgs(os.Args[1:]))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "vproxy",
		Short:         "Domain-routed HTTP reverse proxy",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().String("routes", "", "Routes file (overrides VPROXY_ROUTES_FILE)")

	root.AddCommand(
		newStartCmd(),
		newAddRouteCmd(),
		newStopCmd(),
		newRoutesCmd(),
	)
	return root
}

// normalizeArgs rewrites single-dash long flags such as -domain to --domain.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			return append(out, args[i:]...)
		}
		if strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "--") {
			name, _, _ := strings.Cut(arg[1:], "=")
			if legacyFlags[name] {
				arg = "-" + arg
			}
		}
		out = append(out, arg)
	}
	return out
}

// loadConfig reads the optional .env file and the environment, then applies
// the --routes override.
func loadConfig(cmd *cobra.Command) (vproxy.Config, error) {
	// .env file is optional
	_ = godotenv.Load()

	cfg, err := vproxy.NewConfig(env.Options{})
	if err != nil {
		return vproxy.Config{}, err
	}
	if routes, _ := cmd.Flags().GetString("routes"); routes != "" {
		cfg.RoutesFile = routes
	}
	return cfg, nil
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
