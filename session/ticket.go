// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"courseware.dev/coderun/webapi"

	. "import.name/type/context"
)

const maxTicketSize = 4096

// TicketSource issues one-time tickets for opening a session channel.
type TicketSource interface {
	Ticket(ctx Context) (string, error)
}

// TicketFunc adapts a function to TicketSource.
type TicketFunc func(ctx Context) (string, error)

func (f TicketFunc) Ticket(ctx Context) (string, error) { return f(ctx) }

// HTTPTicketSource fetches tickets with GET requests.
type HTTPTicketSource struct {
	URL    string
	Client *http.Client // Defaults to http.DefaultClient.
}

func (s *HTTPTicketSource) Ticket(ctx Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", webapi.ContentTypeJSON)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticket request: %s", resp.Status)
	}

	var t webapi.Ticket
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxTicketSize)).Decode(&t); err != nil {
		return "", fmt.Errorf("ticket response: %w", err)
	}
	if t.Ticket == "" {
		return "", fmt.Errorf("ticket response: empty ticket")
	}

	return t.Ticket, nil
}
