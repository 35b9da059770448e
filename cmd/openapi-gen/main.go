// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sgreports-dev/sgreports/internal/server"
	"github.com/sgreports-dev/sgreports/internal/sqlguard"
	"github.com/sgreports-dev/sgreports/internal/tools"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec creates a server with all routes registered and extracts the
// OpenAPI document huma builds from the Go type annotations. Handlers are
// never invoked, so no stores or providers are wired.
func generateSpec() ([]byte, error) {
	// Silence the anonymous-access warning from server.New.
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	exec, err := tools.New(tools.Config{
		Documents: noDocuments{},
		Queries:   noQueries{},
		Validator: sqlguard.Default(),
	})
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeCLISetupFailure, "creating tool executor")
	}

	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		Tools:      exec.Definitions(),
	})
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeCLISetupFailure, "creating server")
	}
	defer srv.Close()

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}
