// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package turtle

import (
	"fmt"
)

// UnknownInstructionError halts the player.
type UnknownInstructionError struct {
	Index int // Position in the log.
	Name  string
}

func (e *UnknownInstructionError) Error() string {
	return fmt.Sprintf("unknown drawing instruction %q at index %d", e.Name, e.Index)
}

func (e *UnknownInstructionError) PublicError() string {
	return fmt.Sprintf("unknown drawing instruction %q", e.Name)
}

// DecodeError describes an instruction which could not be decoded.
type DecodeError struct {
	Index int
	Name  string // Empty if the opcode itself was malformed.
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("instruction %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("instruction %d (%s): %v", e.Index, e.Name, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
