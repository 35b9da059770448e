// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	sgerr "github.com/sgreports-dev/sgreports/pkg/errors"
)

// ErrServerNotRunning indicates the server refused the connection.
var ErrServerNotRunning = sgerr.New(sgerr.CodeCLIServerNotRunning, "sgreports server is not running (connection refused)")

// defaultHTTPClient is the package-level HTTP client used by client
// commands. Streams have no overall timeout; the request context bounds them.
var defaultHTTPClient = &http.Client{}

// apiClient provides HTTP access to a running sgreports server.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// newAPIClient targets addr, which may be host:port or a full URL.
func newAPIClient(addr, token string) *apiClient {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{baseURL: base, token: token, http: defaultHTTPClient}
}

// postStream sends body as JSON and returns the open response for the
// caller to read. Non-200 responses are turned into errors.
func (c *apiClient) postStream(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeCLIInputInvalid, "encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, sgerr.Wrap(err, sgerr.CodeCLIRequestFailure, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return nil, ErrServerNotRunning
		}
		return nil, sgerr.Wrap(err, sgerr.CodeCLIRequestFailure, "request failed")
	}

	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, sgerr.Errorf(sgerr.CodeCLIRequestFailure, "server returned status %d: %s",
			resp.StatusCode, errorMessage(msg))
	}
	return resp, nil
}

// errorMessage extracts {"error": "..."} or a huma problem detail from a
// response body, falling back to the raw text.
func errorMessage(body []byte) string {
	var problem struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &problem) == nil {
		if problem.Error != "" {
			return problem.Error
		}
		if problem.Detail != "" {
			return problem.Detail
		}
	}
	return strings.TrimSpace(string(body))
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
