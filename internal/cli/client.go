// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultServer = "http://localhost:8080"

// client is a minimal REST client for a running kairos server.
type client struct {
	base string
	http *http.Client
}

func newClient(server string) *client {
	if server == "" {
		server = os.Getenv("KAIROS_SERVER")
	}
	if server == "" {
		server = defaultServer
	}
	return &client{
		base: strings.TrimRight(server, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// post sends the request body to /api/v1/<op> and returns the decoded JSON
// response. Non-2xx responses are returned as errors carrying the server's
// error_code and message.
func (c *client) post(ctx context.Context, op string, body any) (map[string]any, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/"+op, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", c.base, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("server returned non-JSON response (status %d)", resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		code, _ := out["error_code"].(string)
		msg, _ := out["message"].(string)
		return out, fmt.Errorf("%s: %s", code, msg)
	}
	return out, nil
}

// printJSON pretty-prints a response to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
