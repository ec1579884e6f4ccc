// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dealdesk Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dealdesk-dev/dealdesk/internal/agent"
	"github.com/dealdesk-dev/dealdesk/internal/approval"
	"github.com/dealdesk-dev/dealdesk/internal/auth"
	"github.com/dealdesk-dev/dealdesk/internal/classifier"
	"github.com/dealdesk-dev/dealdesk/internal/prompt"
	"github.com/dealdesk-dev/dealdesk/internal/provider"
	"github.com/dealdesk-dev/dealdesk/internal/ratelimit"
	"github.com/dealdesk-dev/dealdesk/internal/server"
	"github.com/dealdesk-dev/dealdesk/internal/store"
	dderr "github.com/dealdesk-dev/dealdesk/pkg/errors"
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
// OpenAPI document huma builds from the handler types.
func generateSpec() ([]byte, error) {
	// Handlers are never invoked during spec generation, so every stage is
	// a no-op stub.
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		ChatMax:    1,
		ChatWindow: time.Minute,
	}, server.Deps{
		Auth:       auth.Chain{},
		Limiter:    ratelimit.New(ratelimit.NewMemoryStore()),
		Classifier: stubFilter{},
		Prompt:     stubAssembler{},
		Agent:      stubRunner{},
		Approvals:  stubApprovals{},
	})
	if err != nil {
		return nil, dderr.Wrap(err, dderr.CodeCLISetupFailure, "creating server")
	}

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// No-op pipeline stubs for spec generation. Methods are never called.

type stubFilter struct{}

func (stubFilter) Apply(_ context.Context, _ string, msgs []provider.Message) ([]provider.Message, []classifier.Outcome, error) {
	return msgs, nil, nil
}

type stubAssembler struct{}

func (stubAssembler) Assemble(context.Context, prompt.Request) (*prompt.Context, error) {
	return &prompt.Context{}, nil
}

type stubRunner struct{}

func (stubRunner) Run(context.Context, agent.Turn, chan<- agent.Event) (*agent.Result, error) {
	return &agent.Result{}, nil
}

type stubApprovals struct{}

func (stubApprovals) Check(context.Context, string, string) (*store.Approval, error) {
	return nil, nil
}

func (stubApprovals) Resolve(context.Context, string, approval.Decision, string) (*approval.Outcome, error) {
	return nil, nil
}

func (stubApprovals) Pending(context.Context, string, int) ([]*store.Approval, error) {
	return nil, nil
}
