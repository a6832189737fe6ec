// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package devserver simulates a code execution backend.  Programs are written
// in a line-oriented command language:
//
//	print TEXT     output TEXT and a newline
//	turtle JSON    output a drawing instruction log
//	input          read a line and echo it
//	wait MS        sleep
//	exit N         terminate with exit code N
//	error TEXT     fail with an error message
//
// Reaching the end of the program is equivalent to exit 0.
package devserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"courseware.dev/coderun/webapi"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	. "import.name/type/context"
)

const (
	DefaultPollDelay      = 10 * time.Millisecond
	DefaultMaxMessageSize = 1024 * 1024
	DefaultTicketLifetime = time.Minute
)

var (
	websocketNormalClosure   = websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	websocketMessageTooBig   = websocket.FormatCloseMessage(websocket.CloseMessageTooBig, "")
	websocketUnsupportedData = websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "")
)

type Config struct {
	TicketPath  string // Defaults to webapi.PathTicket.
	SessionPath string // Defaults to webapi.PathSession.

	// PollDelay is the time spent waiting for input before a read is
	// answered with the waiting state.
	PollDelay time.Duration

	MaxMessageSize int64

	// Tickets defaults to a new MemoryTickets instance.
	Tickets        TicketStore
	TicketLifetime time.Duration

	Log *slog.Logger
}

type Server struct {
	config   Config
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func New(config *Config) *Server {
	s := &Server{
		config: *config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	if s.config.TicketPath == "" {
		s.config.TicketPath = webapi.PathTicket
	}
	if s.config.SessionPath == "" {
		s.config.SessionPath = webapi.PathSession
	}
	if s.config.PollDelay == 0 {
		s.config.PollDelay = DefaultPollDelay
	}
	if s.config.MaxMessageSize == 0 {
		s.config.MaxMessageSize = DefaultMaxMessageSize
	}
	if s.config.Tickets == nil {
		s.config.Tickets = NewMemoryTickets()
	}
	if s.config.TicketLifetime == 0 {
		s.config.TicketLifetime = DefaultTicketLifetime
	}

	s.log = s.config.Log
	if s.log == nil {
		s.log = slog.Default()
	}

	return s
}

// IssueTicket creates a ticket which can be used once.
func (s *Server) IssueTicket(ctx Context) (string, error) {
	t := uuid.NewString()
	if err := s.config.Tickets.Issue(ctx, t, time.Now().Add(s.config.TicketLifetime)); err != nil {
		return "", err
	}
	return t, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case s.config.TicketPath:
		s.handleTicket(w, r)

	case s.config.SessionPath:
		s.handleSession(w, r)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	default:
		w.Header().Set("Allow", "GET, HEAD")
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ticket, err := s.IssueTicket(r.Context())
	if err != nil {
		s.log.ErrorContext(r.Context(), "ticket issuance failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data, err := json.Marshal(webapi.Ticket{Ticket: ticket})
	if err != nil {
		panic(err)
	}
	data = append(data, '\n')

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Type", webapi.ContentTypeJSON)
	w.Write(data)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch ok, err := s.config.Tickets.Redeem(r.Context(), r.URL.Query().Get(webapi.ParamTicket)); {
	case err != nil:
		s.log.ErrorContext(r.Context(), "ticket redemption failed", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return

	case !ok:
		s.log.InfoContext(r.Context(), "session rejected", "remote", r.RemoteAddr)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.InfoContext(r.Context(), "websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(s.config.MaxMessageSize)

	log := s.log.With("remote", r.RemoteAddr)
	log.DebugContext(r.Context(), "session started")

	x := &execution{
		server: s,
		conn:   conn,
		log:    log,
	}

	closeMsg := x.serve(r.Context())
	conn.WriteMessage(websocket.CloseMessage, closeMsg)

	log.DebugContext(r.Context(), "session finished")
}

// execution of one program.  Messages are handled one at a time.
type execution struct {
	server *Server
	conn   *websocket.Conn
	log    *slog.Logger

	prog     program
	started  bool
	finished bool
	exitcode int
	failure  string
	pc       int
	queue    []string
}

func (x *execution) serve(ctx Context) []byte {
	for {
		frameType, data, err := x.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return websocketNormalClosure
			}
			if err == websocket.ErrReadLimit {
				return websocketMessageTooBig
			}
			x.log.DebugContext(ctx, "session read failed", "error", err)
			return websocketNormalClosure
		}
		if frameType != websocket.TextMessage {
			return websocketUnsupportedData
		}

		var req webapi.Request
		if err := json.Unmarshal(data, &req); err != nil {
			x.fail(req.Operation, "malformed request")
			continue
		}

		x.log.DebugContext(ctx, "request", "operation", req.Operation)

		var ok bool

		switch req.Operation {
		case webapi.OpRun:
			ok = x.run(req.Content)

		case webapi.OpInput:
			ok = x.input(req.Input)

		case webapi.OpRead:
			ok = x.read(ctx)

		default:
			ok = x.fail(req.Operation, "unknown operation")
		}

		if !ok {
			return websocketNormalClosure
		}
	}
}

func (x *execution) run(source string) bool {
	if x.started {
		return x.fail(webapi.OpRun, "program already started")
	}

	prog, err := parseProgram(source)
	if err != nil {
		return x.fail(webapi.OpRun, err.Error())
	}

	x.prog = prog
	x.started = true
	return x.send(webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRun})
}

func (x *execution) input(text *string) bool {
	if text == nil {
		return x.fail(webapi.OpInput, "missing input")
	}

	x.queue = append(x.queue, *text)
	return x.send(webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpInput})
}

// read executes the program until it terminates or needs input.  Output is
// pushed without waiting for further read requests.
func (x *execution) read(ctx Context) bool {
	if !x.started {
		return x.fail(webapi.OpRead, "no program")
	}

	for {
		if x.finished {
			if x.failure != "" {
				return x.fail(webapi.OpRead, x.failure)
			}
			return x.done(x.exitcode)
		}
		if x.pc >= len(x.prog) {
			x.finished = true
			continue
		}

		cmd := x.prog[x.pc]

		switch cmd.op {
		case opPrint:
			x.pc++
			if !x.output(cmd.text + "\n") {
				return false
			}

		case opTurtle:
			x.pc++
			if !x.output(cmd.text) {
				return false
			}

		case opInput:
			if len(x.queue) == 0 {
				if !sleep(ctx, x.server.config.PollDelay) {
					return false
				}
				return x.send(webapi.Response{
					Status:    webapi.StatusOK,
					Operation: webapi.OpRead,
					State:     webapi.StateWaiting,
				})
			}

			line := x.queue[0]
			x.queue = x.queue[1:]
			x.pc++
			if !x.output(line + "\n") {
				return false
			}

		case opWait:
			x.pc++
			if !sleep(ctx, cmd.delay()) {
				return false
			}

		case opExit:
			x.finished = true
			x.exitcode = cmd.n

		case opError:
			x.finished = true
			x.failure = cmd.text
			if x.failure == "" {
				x.failure = "error"
			}
		}
	}
}

func (x *execution) output(text string) bool {
	return x.send(webapi.Response{
		Status:    webapi.StatusOK,
		Operation: webapi.OpRead,
		Output:    text,
		State:     webapi.StateRunning,
	})
}

func (x *execution) done(exitcode int) bool {
	return x.send(webapi.Response{
		Status:    webapi.StatusOK,
		Operation: webapi.OpRead,
		State:     webapi.StateDone,
		ExitCode:  &exitcode,
	})
}

func (x *execution) fail(op, message string) bool {
	return x.send(webapi.Response{
		Status:    webapi.StatusError,
		Operation: op,
		Output:    message,
	})
}

func (x *execution) send(resp webapi.Response) bool {
	if err := x.conn.WriteJSON(resp); err != nil {
		x.log.Debug("session write failed", "error", err)
		return false
	}
	return true
}

func sleep(ctx Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
