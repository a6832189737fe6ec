// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package webapi contains definitions useful for talking to a code execution
// backend: the ticket endpoint and the duplex session protocol.
package webapi

// Query parameters for session websocket requests.
const (
	ParamTicket = "ticket"
)

// Default request URL paths of a backend.
const (
	PathTicket  = "/ticket"  // HTTP GET, returns Ticket.
	PathSession = "/session" // Websocket.
)

// Operations of Request and Response messages.
const (
	OpRun   = "run"
	OpInput = "input"
	OpRead  = "read"
)

// Values of Response.Status.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Some values of Response.State.  Other values mean that the program is still
// running and the backend will push more output on its own.
const (
	StateWaiting = "waiting" // Client should read again immediately.
	StateDone    = "done"    // Program has terminated.
	StateRunning = "running"
)

// The supported content type of ticket responses.
const ContentTypeJSON = "application/json"

// Response to PathTicket request.
type Ticket struct {
	Ticket string `json:"ticket"`
}

// Client-to-backend message.
type Request struct {
	Operation string  `json:"operation"`
	Content   string  `json:"content,omitempty"` // Program source for OpRun.
	Input     *string `json:"input,omitempty"`   // Text for OpInput.
}

// RunRequest starts a program.
func RunRequest(source string) Request {
	return Request{
		Operation: OpRun,
		Content:   source,
	}
}

// InputRequest feeds text to the standard input of a running program.
func InputRequest(text string) Request {
	return Request{
		Operation: OpInput,
		Input:     &text,
	}
}

// ReadRequest asks for more output.
func ReadRequest() Request {
	return Request{
		Operation: OpRead,
	}
}

// Backend-to-client message.
type Response struct {
	Status    string `json:"status"`
	Operation string `json:"operation,omitempty"`
	Output    string `json:"output,omitempty"`
	State     string `json:"state,omitempty"`
	ExitCode  *int   `json:"exitcode"`
}

// OK status?
func (r *Response) OK() bool {
	return r.Status == StatusOK
}

// Terminal is true if the program is done or has an exit code.
func (r *Response) Terminal() bool {
	return r.State == StateDone || r.ExitCode != nil
}
