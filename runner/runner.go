// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runner executes programs remotely and replays their output: text is
// written to a sink and drawing instructions are animated on a surface.
package runner

import (
	"log/slog"
	"sync"
	"time"

	"courseware.dev/coderun/session"
	"courseware.dev/coderun/turtle"

	. "import.name/type/context"
)

type Config struct {
	Session session.Config
	Turtle  turtle.Config

	// FrameRate paces drawing animation (frames per second).  Zero draws
	// each instruction log to completion as soon as it arrives.
	FrameRate int

	Log *slog.Logger
}

type Result struct {
	ExitCode *int  // Nil if the program ended without one.
	Err      error // Drawing failure.
}

// Runner is not safe for concurrent Run calls.  Input may be called
// concurrently with Run.
type Runner struct {
	config  Config
	surface turtle.Surface
	text    turtle.TextSink
	log     *slog.Logger

	mu     sync.Mutex
	active *session.Session
}

func New(config *Config, surface turtle.Surface, text turtle.TextSink) *Runner {
	r := &Runner{
		config:  *config,
		surface: surface,
		text:    text,
		log:     config.Log,
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.config.Session.Log == nil {
		r.config.Session.Log = r.log
	}
	if r.config.Turtle.Log == nil {
		r.config.Turtle.Log = r.log
	}
	return r
}

// Run a program and wait until it has terminated and its output has been
// replayed.  The returned error describes a session failure, or cancellation
// of ctx.
func (r *Runner) Run(ctx Context, source string) (*Result, error) {
	player := turtle.NewPlayer(r.surface, r.text, &r.config.Turtle)
	player.Init(r)

	s := session.New(&r.config.Session)
	defer s.Close()

	r.setActive(s)
	defer r.setActive(nil)

	done := make(chan struct{})
	defer close(done)

	events := make(chan event, 16)
	ctrl := &controller{
		session: s,
		source:  source,
		events:  events,
		done:    done,
	}

	if err := s.Connect(ctx, ctrl); err != nil {
		return new(Result), err
	}

	var tick <-chan time.Time
	if r.config.FrameRate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(r.config.FrameRate))
		defer ticker.Stop()
		tick = ticker.C
	}

	result := new(Result)
	ended := false

	for !ended || player.Busy() {
		select {
		case e := <-events:
			switch e.kind {
			case eventReceive:
				player.Receive(e.text)
				if tick == nil {
					player.Flush()
				}

			case eventError:
				player.Cancel()
				result.Err = player.Err()
				return result, s.Err()

			case eventEnd:
				player.End()
				result.ExitCode = e.exitcode
				ended = true
			}

		case <-tick:
			player.Frame()

		case <-ctx.Done():
			player.Cancel()
			s.Close()
			result.Err = player.Err()
			return result, ctx.Err()
		}
	}

	result.Err = player.Err()
	return result, nil
}

// Input text to the running program.
func (r *Runner) Input(text string) error {
	r.mu.Lock()
	s := r.active
	r.mu.Unlock()

	if s == nil {
		return session.ErrNotConnected
	}

	switch s.State() {
	case session.StateOpen, session.StateAwaitingOutput, session.StateReading:
		return s.Input(text)

	default:
		return session.ErrNotConnected
	}
}

// Error is called by the player when it halts.
func (r *Runner) Error(message string) {
	r.log.Warn("drawing failed", "error", message)
}

func (r *Runner) setActive(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = s
}

type eventKind int

const (
	eventReceive eventKind = iota
	eventError
	eventEnd
)

type event struct {
	kind     eventKind
	text     string
	exitcode *int
}

// controller forwards session callbacks to the Run loop.
type controller struct {
	session *session.Session
	source  string
	events  chan<- event
	done    <-chan struct{}
}

func (c *controller) Begin() {
	c.session.Run(c.source)
}

func (c *controller) Receive(output string) {
	c.send(event{kind: eventReceive, text: output})
}

func (c *controller) Error(message string) {
	c.send(event{kind: eventError, text: message})
}

func (c *controller) End(exitcode *int) {
	c.send(event{kind: eventEnd, exitcode: exitcode})
}

func (c *controller) send(e event) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}
