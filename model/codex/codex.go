//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package codex provides a provider that shells out to the codex CLI. The
// binary speaks an event-stream protocol on stdout (one JSON object per
// line); the provider surfaces it through the Responses path and flattens it
// into a chat response.
package codex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/gambit-run/gambit/log"
	"github.com/gambit-run/gambit/model"
)

// Environment variables honored by the provider.
const (
	// EnvBin overrides the codex binary path.
	EnvBin = "GAMBIT_CODEX_BIN"
	// EnvDisableMCP disables MCP server wiring in the spawned process.
	EnvDisableMCP = "GAMBIT_CODEX_DISABLE_MCP"
	// EnvArgsLog appends the argv of every spawn to a file. Test-only.
	EnvArgsLog = "CODEX_ARGS_LOG"
)

const defaultBin = "codex"

// Provider implements model.Provider by spawning the codex CLI per call.
type Provider struct {
	bin string
}

// New creates a codex provider. The binary defaults to "codex" on PATH and
// can be overridden with GAMBIT_CODEX_BIN.
func New() *Provider {
	bin := os.Getenv(EnvBin)
	if bin == "" {
		bin = defaultBin
	}
	return &Provider{bin: bin}
}

// Info implements model.Provider.
func (p *Provider) Info() model.Info { return model.Info{Name: "codex-cli"} }

// CheckModel implements model.AvailabilityProbe; the binary must resolve.
func (p *Provider) CheckModel(_ context.Context, name string) error {
	if _, err := exec.LookPath(p.bin); err != nil {
		return fmt.Errorf("codex-cli: binary %q not found (model %q): %w", p.bin, name, err)
	}
	return nil
}

// Chat implements model.Provider. Tool definitions are not forwarded; the
// codex CLI manages its own toolset.
func (p *Provider) Chat(ctx context.Context, req *model.Request) (*model.Response, error) {
	return p.run(ctx, req, nil)
}

// Responses implements model.ResponsesProvider.
func (p *Provider) Responses(ctx context.Context, req *model.Request) (*model.Response, error) {
	return p.run(ctx, req, req.OnStreamEvent)
}

func (p *Provider) run(
	ctx context.Context,
	req *model.Request,
	onEvent func(model.StreamEvent),
) (*model.Response, error) {
	if req == nil {
		return nil, fmt.Errorf("codex-cli: request cannot be nil")
	}
	args := []string{"exec", "--json"}
	if req.Model != "" && req.Model != "default" {
		args = append(args, "--model", req.Model)
	}
	if os.Getenv(EnvDisableMCP) != "" {
		args = append(args, "--no-mcp")
	}
	logArgs(args)

	cmd := exec.CommandContext(ctx, p.bin, args...)
	cmd.Stdin = strings.NewReader(renderPrompt(req.Messages))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("codex-cli: pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("codex-cli: spawn %q: %w", p.bin, err)
	}

	if onEvent != nil {
		onEvent(model.StreamEvent{Type: model.StreamEventResponseCreated})
	}
	var content strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var evt struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(line, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case model.StreamEventOutputTextDelta:
			content.WriteString(evt.Text)
			if req.OnStreamText != nil {
				req.OnStreamText(evt.Text)
			}
		case model.StreamEventOutputTextDone:
			if evt.Text != "" {
				content.Reset()
				content.WriteString(evt.Text)
			}
		}
		if onEvent != nil {
			var raw any
			_ = json.Unmarshal(line, &raw)
			onEvent(model.StreamEvent{Type: evt.Type, Text: evt.Text, Raw: raw})
		}
	}
	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("codex-cli: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if onEvent != nil {
		onEvent(model.StreamEvent{Type: model.StreamEventCompleted})
	}
	return &model.Response{
		Message:      model.NewAssistantMessage(content.String()),
		FinishReason: model.FinishStop,
	}, nil
}

// renderPrompt flattens the conversation into the plain-text prompt the CLI
// expects on stdin.
func renderPrompt(messages []model.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n%s\n\n", msg.Role, msg.Content)
	}
	return b.String()
}

func logArgs(args []string) {
	path := os.Getenv(EnvArgsLog)
	if path == "" {
		return
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Warnf("codex-cli: cannot open args log: %v", err)
		return
	}
	defer f.Close()
	fmt.Fprintln(f, strings.Join(args, " "))
}
