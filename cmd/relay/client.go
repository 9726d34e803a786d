// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	relayerr "github.com/sigil-dev/relay/pkg/errors"
)

// defaultHTTPClient is used by commands talking to a running server.
// Overridden in tests via httptest.
var defaultHTTPClient = &http.Client{
	Timeout: 10 * time.Second,
}

// serverClient provides HTTP access to a running relay server.
type serverClient struct {
	baseURL string
	http    *http.Client
}

// newServerClient targets a host:port address or a full base URL.
func newServerClient(addr string) *serverClient {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &serverClient{baseURL: base, http: defaultHTTPClient}
}

func (c *serverClient) getJSON(path string, dest any) error {
	return c.do(http.MethodGet, path, nil, dest)
}

func (c *serverClient) postJSON(path string, body, dest any) error {
	return c.do(http.MethodPost, path, body, dest)
}

func (c *serverClient) delete(path string) error {
	return c.do(http.MethodDelete, path, nil, nil)
}

// do sends the request and decodes a 2xx JSON response into dest.
// A refused connection yields CodeCLIServerNotRunning.
func (c *serverClient) do(method, path string, body, dest any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return relayerr.Errorf(relayerr.CodeCLIRequestFailure, "encoding request: %w", err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.baseURL+path, rdr)
	if err != nil {
		return relayerr.Errorf(relayerr.CodeCLIRequestFailure, "building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isDialError(err) {
			return relayerr.Errorf(relayerr.CodeCLIServerNotRunning, "relay server at %s is not running (connection refused)", c.baseURL)
		}
		return relayerr.Errorf(relayerr.CodeCLIRequestFailure, "request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return relayerr.Errorf(relayerr.CodeCLIRequestFailure, "server returned status %d: %s", resp.StatusCode, problemDetail(resp.Body))
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return relayerr.Errorf(relayerr.CodeCLIRequestFailure, "invalid response: %w", err)
	}
	return nil
}

// problemDetail extracts the detail of a problem+json body, falling back to
// the raw text.
func problemDetail(r io.Reader) string {
	raw, _ := io.ReadAll(r)
	var problem struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(raw, &problem) == nil && problem.Detail != "" {
		return problem.Detail
	}
	return strings.TrimSpace(string(raw))
}

func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
