// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/r3labs/sse/v2"
	"github.com/spf13/cobra"

	"github.com/sgreports-dev/sgreports/internal/agent"
	"github.com/sgreports-dev/sgreports/internal/server"
	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

const (
	defaultServerAddr = "127.0.0.1:8080"
	maxEventSize      = 4 << 20
)

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the running server a question and stream the answer",
		Long: "Send a question to a running sgreports server. Assistant text is written to stdout " +
			"as it arrives; tool activity is written to stderr.",
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}

	cmd.Flags().String("server", envOr("SGREPORTS_SERVER", defaultServerAddr), "server address (host:port or URL)")
	cmd.Flags().String("token", os.Getenv("SGREPORTS_TOKEN"), "bearer token (default $SGREPORTS_TOKEN)")
	cmd.Flags().String("session", "", "session id used to log the interaction")
	cmd.Flags().Int("index", -1, "interaction index within the session")
	cmd.Flags().Bool("json", false, "print raw events as JSON lines")

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runAsk(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	session, _ := cmd.Flags().GetString("session")
	index, _ := cmd.Flags().GetInt("index")
	raw, _ := cmd.Flags().GetBool("json")

	req := server.ChatStreamRequest{
		Prompt:    strings.Join(args, " "),
		SessionID: session,
	}
	if index >= 0 {
		req.InteractionIndex = &index
	}

	resp, err := newAPIClient(addr, token).postStream(cmd.Context(), "/api/v1/chat/stream", req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	out := &askPrinter{stdout: cmd.OutOrStdout(), stderr: cmd.ErrOrStderr(), raw: raw}
	return streamEvents(resp.Body, out.handle)
}

// streamEvents reads SSE frames from r and passes each decoded event to fn
// until a terminal event arrives or fn returns an error.
func streamEvents(r io.Reader, fn func(agent.Event) error) error {
	reader := sse.NewEventStreamReader(r, maxEventSize)
	for {
		frame, err := reader.ReadEvent()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sgerr.New(sgerr.CodeCLIResponseInvalid, "stream ended without a terminal event")
			}
			return sgerr.Wrap(err, sgerr.CodeCLIRequestFailure, "reading event stream")
		}

		msg := parseFrame(frame)
		if len(msg.Data) == 0 {
			continue
		}
		ev, err := agent.DecodeEvent(string(msg.Event), msg.Data)
		if err != nil {
			return sgerr.Wrapf(err, sgerr.CodeCLIResponseInvalid, "decoding %q event", msg.Event)
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Kind().Terminal() {
			return nil
		}
	}
}

// parseFrame splits one raw SSE frame into its fields. Multiple data lines
// are joined with newlines; comments and unknown fields are ignored.
func parseFrame(frame []byte) *sse.Event {
	ev := &sse.Event{}
	var data [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		name, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(name) {
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
		case "id":
			ev.ID = value
		}
	}
	ev.Data = bytes.Join(data, []byte("\n"))
	return ev
}

// askPrinter renders events for a terminal.
type askPrinter struct {
	stdout io.Writer
	stderr io.Writer
	raw    bool
	wrote  bool
}

func (p *askPrinter) handle(ev agent.Event) error {
	if p.raw {
		line, err := agent.MarshalEvent(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(p.stdout, "%s\n", line); err != nil {
			return err
		}
		if f, ok := ev.(agent.Failure); ok {
			return failureError(f)
		}
		return nil
	}

	switch e := ev.(type) {
	case agent.ToolStart:
		args, _ := json.Marshal(e.Args)
		_, err := fmt.Fprintf(p.stderr, "> %s %s\n", e.Name, args)
		return err
	case agent.ToolResultEvent:
		status := "ok"
		if !e.Success {
			status = fmt.Sprintf("failed: %v", e.Result)
		}
		_, err := fmt.Fprintf(p.stderr, "< %s %s\n", e.Name, status)
		return err
	case agent.TextDelta:
		p.wrote = true
		_, err := io.WriteString(p.stdout, e.Content)
		return err
	case agent.Done:
		if p.wrote {
			_, err := io.WriteString(p.stdout, "\n")
			return err
		}
		return nil
	case agent.Failure:
		if p.wrote {
			_, _ = io.WriteString(p.stdout, "\n")
		}
		return failureError(e)
	}
	return nil
}

func failureError(f agent.Failure) error {
	if f.Code != "" {
		return sgerr.Errorf(sgerr.CodeCLIRequestFailure, "agent error (%s): %s", f.Code, f.Message)
	}
	return sgerr.Errorf(sgerr.CodeCLIRequestFailure, "agent error: %s", f.Message)
}
