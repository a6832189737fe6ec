// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"errors"
	"io"
	"time"

	"courseware.dev/coderun/runner"
	"courseware.dev/coderun/session"
	"github.com/chzyer/readline"

	. "import.name/type/context"
)

const inputRetryDelay = 20 * time.Millisecond

type REPLConfig struct {
	HistoryFile  string
	HistoryLimit int
}

// prompt reads interactive input lines.
type prompt struct {
	*readline.Instance
}

func newPrompt(c *REPLConfig) (*prompt, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "",
		HistoryFile:  c.HistoryFile,
		HistoryLimit: c.HistoryLimit,
	})
	if err != nil {
		return nil, err
	}
	return &prompt{rl}, nil
}

// forward lines until end of input.  Interrupt cancels the run.
func (p *prompt) forward(ctx Context, cancel func(), r *runner.Runner) {
	for {
		line, err := p.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				cancel()
			}
			return
		}

		if !deliver(ctx, r, line) {
			return
		}
	}
}

func forwardLines(ctx Context, r *runner.Runner, in io.Reader) {
	s := bufio.NewScanner(in)
	for s.Scan() {
		if !deliver(ctx, r, s.Text()) {
			return
		}
	}
}

// deliver retries until the program has started.
func deliver(ctx Context, r *runner.Runner, line string) bool {
	for {
		err := r.Input(line)
		if err == nil {
			return true
		}
		if !errors.Is(err, session.ErrNotConnected) {
			return false
		}

		select {
		case <-time.After(inputRetryDelay):
		case <-ctx.Done():
			return false
		}
	}
}
