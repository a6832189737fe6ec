// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session implements the client side of a remote code execution
// session: ticket authentication, a websocket channel to the execution
// backend, and the run/input/read protocol loop.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"courseware.dev/coderun/webapi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	. "import.name/type/context"
)

const DefaultHandshakeTimeout = 10 * time.Second

const closeTimeout = time.Second

// Controller receives the lifecycle callbacks of a session.  The callbacks
// are invoked one at a time, in protocol order.  Begin is called by Connect;
// the rest are called by the goroutine which reads the channel, including
// errors caused by failed writes.  The exception is Send on a channel which is
// not open: it calls Error directly, before the session has started reading
// or after it has terminated.
type Controller interface {
	Begin()
	Receive(output string)
	Error(message string)
	End(exitcode *int)
}

type Config struct {
	// Address is the websocket URL of the backend's session endpoint.
	Address string

	// TicketURL is used to construct an HTTPTicketSource if Tickets is nil.
	TicketURL string
	Tickets   TicketSource

	HandshakeTimeout time.Duration

	// InactivityTimeout moves the session to the errored state if the
	// backend is silent for too long.  Zero disables the timeout.
	InactivityTimeout time.Duration

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Log        *slog.Logger
}

// Session represents one remote execution attempt.  A session cannot be
// reused after it has been connected.
type Session struct {
	config  Config
	id      uuid.UUID
	log     *slog.Logger
	tickets TicketSource

	mu      sync.Mutex
	state   State
	ctrl    Controller
	conn    *websocket.Conn
	err     error
	werr    error // Write failure waiting to be reported by the reader.
	used    bool
	closing bool
	closed  bool // Transport.

	wmu sync.Mutex
}

func New(config *Config) *Session {
	s := &Session{
		config: *config,
		id:     uuid.New(),
	}

	if s.config.HandshakeTimeout == 0 {
		s.config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	s.tickets = s.config.Tickets
	if s.tickets == nil {
		s.tickets = &HTTPTicketSource{
			URL:    s.config.TicketURL,
			Client: s.config.HTTPClient,
		}
	}

	log := s.config.Log
	if log == nil {
		log = slog.Default()
	}
	s.log = log.With("session", s.id.String())

	return s
}

func (s *Session) ID() uuid.UUID { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error which moved the session to the errored state.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Connect requests a ticket and opens the channel.  Controller's Begin method
// is called once the channel is open.  Failures are reported via controller's
// Error method, and the same error is returned.
func (s *Session) Connect(ctx Context, ctrl Controller) error {
	s.mu.Lock()
	switch {
	case s.closing:
		s.mu.Unlock()
		return ErrClosed
	case s.used:
		s.mu.Unlock()
		return ErrReused
	}
	s.used = true
	s.ctrl = ctrl
	s.state = StateConnecting
	s.mu.Unlock()

	s.log.DebugContext(ctx, "requesting ticket")

	ticket, err := s.tickets.Ticket(ctx)
	if err != nil {
		s.log.WarnContext(ctx, "ticket request failed", "error", err)
		return s.fail(fmt.Errorf("%w: %v", ErrUnauthorized, err))
	}

	dialer := s.config.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: s.config.HandshakeTimeout,
		}
	}

	conn, _, err := dialer.DialContext(ctx, channelURL(s.config.Address, ticket), nil)
	if err != nil {
		s.log.WarnContext(ctx, "channel dial failed", "error", err)
		return s.fail(&TransportError{"dial", err})
	}

	s.mu.Lock()
	if s.closing {
		s.state = StateErrored
		s.err = ErrClosed
		s.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.state = StateOpen
	s.mu.Unlock()

	s.log.DebugContext(ctx, "channel open")

	ctrl.Begin()
	go s.readLoop(conn)
	return nil
}

// Send a message to the backend.  If the channel is not open, the error is
// also reported via controller's Error method.
func (s *Session) Send(req webapi.Request) error {
	s.mu.Lock()
	ctrl := s.ctrl
	ok := s.conn != nil && !s.closing && !s.state.Terminal()
	if ok && (req.Operation == webapi.OpRun || req.Operation == webapi.OpInput) {
		s.state = StateAwaitingOutput
	}
	s.mu.Unlock()

	if !ok {
		if ctrl != nil {
			ctrl.Error(ErrNotConnected.Error())
		}
		return ErrNotConnected
	}

	if err := s.write(req); err != nil {
		return s.abort(&TransportError{"write", err})
	}
	return nil
}

// abort closes the transport after a failed write.  The read goroutine
// notices the closure and reports err.
func (s *Session) abort(err error) error {
	s.mu.Lock()
	if s.werr == nil {
		s.werr = err
	}
	s.mu.Unlock()

	s.closeTransport()
	return err
}

// Run a program.
func (s *Session) Run(source string) error {
	return s.Send(webapi.RunRequest(source))
}

// Input text to the running program.
func (s *Session) Input(text string) error {
	return s.Send(webapi.InputRequest(text))
}

// Close the channel.  The controller is not notified.  The underlying
// transport is closed at most once per session, whether by Close or by the
// protocol reaching a terminal state.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	return s.closeTransport()
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		if t := s.config.InactivityTimeout; t > 0 {
			conn.SetReadDeadline(time.Now().Add(t))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			s.lost(err)
			return
		}

		var resp webapi.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			s.fail(&ProtocolError{Status: "malformed", Output: err.Error()})
			return
		}

		if !s.handle(&resp) {
			return
		}
	}
}

func (s *Session) handle(resp *webapi.Response) bool {
	s.mu.Lock()
	active := !s.closing && !s.state.Terminal()
	s.mu.Unlock()
	if !active {
		return false
	}

	if !resp.OK() {
		s.fail(&ProtocolError{
			Operation: resp.Operation,
			Status:    resp.Status,
			Output:    resp.Output,
		})
		return false
	}

	switch resp.Operation {
	case webapi.OpRun, webapi.OpInput:
		return s.read()

	case webapi.OpRead:
		s.ctrl.Receive(resp.Output)

		switch {
		case resp.Terminal():
			if s.terminate(StateDone, nil) {
				if resp.ExitCode != nil {
					s.log.Debug("program exited", "exitcode", *resp.ExitCode)
				} else {
					s.log.Debug("program done")
				}
				s.ctrl.End(resp.ExitCode)
				s.closeTransport()
			}
			return false

		case resp.State == webapi.StateWaiting:
			return s.read()
		}

		// The backend pushes more output when it has some.
		return true

	default:
		s.fail(&ProtocolError{Operation: resp.Operation})
		return false
	}
}

func (s *Session) read() bool {
	s.mu.Lock()
	if !s.state.Terminal() {
		s.state = StateReading
	}
	s.mu.Unlock()

	if err := s.write(webapi.ReadRequest()); err != nil {
		s.fail(&TransportError{"write", err})
		return false
	}
	return true
}

func (s *Session) write(req webapi.Request) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	return conn.WriteJSON(req)
}

func (s *Session) lost(err error) {
	s.mu.Lock()
	closing := s.closing
	werr := s.werr
	s.mu.Unlock()

	if closing {
		s.terminate(StateErrored, ErrClosed)
		return
	}

	if werr != nil {
		s.fail(werr)
		return
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.fail(ErrInactive)
		return
	}

	s.fail(&TransportError{"read", err})
}

// fail moves the session to the errored state, reports the error to the
// controller and closes the transport.  Nothing happens if the session has
// already reached a terminal state.
func (s *Session) fail(err error) error {
	if !s.terminate(StateErrored, err) {
		return err
	}

	s.log.Debug("session failed", "error", err)

	s.ctrl.Error(ErrorString(err, "error"))
	s.closeTransport()
	return err
}

func (s *Session) terminate(state State, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Terminal() {
		return false
	}
	s.state = state
	s.err = err
	return true
}

func (s *Session) closeTransport() error {
	s.mu.Lock()
	conn := s.conn
	if conn == nil || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	return conn.Close()
}

func channelURL(address, ticket string) string {
	sep := "?"
	if strings.Contains(address, "?") {
		sep = "&"
	}
	return address + sep + webapi.ParamTicket + "=" + url.QueryEscape(ticket)
}
