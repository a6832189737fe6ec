// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"fmt"

	"courseware.dev/coderun/internal/error/public"
)

// Public session errors.
var (
	ErrUnauthorized = public.New("Unauthorized")
	ErrNotConnected = public.New("not connected")
	ErrReused       = public.New("session has already been used")
	ErrInactive     = public.New("backend inactivity timeout")
	ErrClosed       = public.New("session closed") // Not reported to the controller.
)

// ProtocolError is caused by an error status or an unexpected operation in a
// backend message.
type ProtocolError struct {
	Operation string
	Status    string
	Output    string
}

func (e *ProtocolError) Error() string {
	if e.Status != "" && e.Status != "ok" {
		if e.Output != "" {
			return fmt.Sprintf("%s operation failed: %s", e.Operation, e.Output)
		}
		return fmt.Sprintf("%s operation failed with status %q", e.Operation, e.Status)
	}
	return fmt.Sprintf("unknown operation: %q", e.Operation)
}

func (e *ProtocolError) PublicError() string {
	if e.Output != "" {
		return e.Output
	}
	return e.Error()
}

// TransportError wraps a failure of the underlying connection.
type TransportError struct {
	Op  string // "dial", "read" or "write".
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) PublicError() string {
	if e.Op == "dial" {
		return "connection failed"
	}
	return "connection closed"
}

// ErrorString returns the text of err which is safe to show to the user of
// the host application, or the alternative.
func ErrorString(err error, alternative string) string {
	return public.ErrorString(err, alternative)
}
