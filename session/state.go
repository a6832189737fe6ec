// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

// State of the session protocol.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateAwaitingOutput
	StateReading
	StateDone
	StateErrored
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateConnecting:     "connecting",
	StateOpen:           "open",
	StateAwaitingOutput: "awaiting output",
	StateReading:        "reading",
	StateDone:           "done",
	StateErrored:        "errored",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "invalid"
}

// Terminal states cannot be left.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored
}
