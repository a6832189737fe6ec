// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"courseware.dev/coderun/webapi"
	"github.com/gorilla/websocket"
)

const testTicket = "e1f6c7a8-7c49-4d8e-9c50-7b0f9ad0c6b3"

var upgrader websocket.Upgrader

type backend struct {
	server  *httptest.Server
	tickets atomic.Int32
	dials   atomic.Int32
}

func newBackend(t *testing.T, handle func(conn *websocket.Conn)) *backend {
	b := new(backend)

	mux := http.NewServeMux()
	mux.HandleFunc(webapi.PathTicket, func(w http.ResponseWriter, r *http.Request) {
		b.tickets.Add(1)
		w.Header().Set("Content-Type", webapi.ContentTypeJSON)
		json.NewEncoder(w).Encode(webapi.Ticket{Ticket: testTicket})
	})
	mux.HandleFunc(webapi.PathSession, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get(webapi.ParamTicket) != testTicket {
			http.Error(w, "bad ticket", http.StatusUnauthorized)
			return
		}
		b.dials.Add(1)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		handle(conn)
	})

	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) config() *Config {
	return &Config{
		Address:   "ws" + strings.TrimPrefix(b.server.URL, "http") + webapi.PathSession,
		TicketURL: b.server.URL + webapi.PathTicket,
	}
}

func expect(t *testing.T, conn *websocket.Conn, op string) webapi.Request {
	t.Helper()

	var req webapi.Request
	if err := conn.ReadJSON(&req); err != nil {
		t.Errorf("backend read: %v", err)
		return req
	}
	if req.Operation != op {
		t.Errorf("backend received %q operation; expected %q", req.Operation, op)
	}
	return req
}

func reply(t *testing.T, conn *websocket.Conn, resp webapi.Response) {
	t.Helper()

	if err := conn.WriteJSON(resp); err != nil {
		t.Errorf("backend write: %v", err)
	}
}

func exit(code int) *int { return &code }

type event struct {
	kind     string
	text     string
	exitcode *int
}

type recorder struct {
	events chan event
}

func newRecorder() *recorder {
	return &recorder{make(chan event, 100)}
}

func (r *recorder) Begin()                { r.events <- event{kind: "begin"} }
func (r *recorder) Receive(output string) { r.events <- event{kind: "receive", text: output} }
func (r *recorder) Error(message string)  { r.events <- event{kind: "error", text: message} }
func (r *recorder) End(exitcode *int)     { r.events <- event{kind: "end", exitcode: exitcode} }

func (r *recorder) next(t *testing.T, kind string) event {
	t.Helper()

	select {
	case e := <-r.events:
		if e.kind != kind {
			t.Fatalf("%s event (%q); expected %s", e.kind, e.text, kind)
		}
		return e

	case <-time.After(5 * time.Second):
		t.Fatalf("timeout while waiting for %s event", kind)
		panic("unreachable")
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()

	select {
	case e := <-r.events:
		t.Errorf("unexpected %s event (%q)", e.kind, e.text)
	case <-time.After(d):
	}
}

// runner starts the program when the channel opens.
type runner struct {
	*recorder
	s      *Session
	source string
}

func (r *runner) Begin() {
	r.recorder.Begin()
	r.s.Run(r.source)
}

func connect(t *testing.T, config *Config, source string) (*Session, *recorder) {
	t.Helper()

	s := New(config)
	t.Cleanup(func() { s.Close() })

	rec := newRecorder()
	if err := s.Connect(context.Background(), &runner{rec, s, source}); err != nil {
		t.Fatal(err)
	}
	return s, rec
}

func TestRunReadDone(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		req := expect(t, conn, webapi.OpRun)
		if req.Content != "print('hello')" {
			t.Errorf("content: %q", req.Content)
		}
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRun})

		expect(t, conn, webapi.OpRead)
		reply(t, conn, webapi.Response{
			Status:    webapi.StatusOK,
			Operation: webapi.OpRead,
			Output:    "hello\n",
			State:     webapi.StateDone,
			ExitCode:  exit(0),
		})
	})

	s, rec := connect(t, b.config(), "print('hello')")

	rec.next(t, "begin")
	if e := rec.next(t, "receive"); e.text != "hello\n" {
		t.Errorf("output: %q", e.text)
	}
	if e := rec.next(t, "end"); e.exitcode == nil || *e.exitcode != 0 {
		t.Errorf("exitcode: %v", e.exitcode)
	}
	rec.quiet(t, 50*time.Millisecond)

	if state := s.State(); state != StateDone {
		t.Errorf("state: %v", state)
	}
	if n := b.tickets.Load(); n != 1 {
		t.Errorf("%d ticket requests", n)
	}
	if n := b.dials.Load(); n != 1 {
		t.Errorf("%d channel opens", n)
	}
}

func TestExitCodeWithoutDoneState(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		expect(t, conn, webapi.OpRun)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRun})
		expect(t, conn, webapi.OpRead)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRead, ExitCode: exit(3)})
	})

	_, rec := connect(t, b.config(), "")

	rec.next(t, "begin")
	rec.next(t, "receive")
	if e := rec.next(t, "end"); e.exitcode == nil || *e.exitcode != 3 {
		t.Errorf("exitcode: %v", e.exitcode)
	}
}

func TestWaitingReadsAgain(t *testing.T) {
	var reads atomic.Int32

	b := newBackend(t, func(conn *websocket.Conn) {
		expect(t, conn, webapi.OpRun)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRun})

		for i := 0; i < 3; i++ {
			expect(t, conn, webapi.OpRead)
			reads.Add(1)
			reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRead, State: webapi.StateWaiting})
		}

		expect(t, conn, webapi.OpRead)
		reads.Add(1)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRead, State: webapi.StateDone})
	})

	_, rec := connect(t, b.config(), "")

	rec.next(t, "begin")
	for i := 0; i < 4; i++ {
		rec.next(t, "receive")
	}
	if e := rec.next(t, "end"); e.exitcode != nil {
		t.Errorf("exitcode: %v", *e.exitcode)
	}

	if n := reads.Load(); n != 4 {
		t.Errorf("%d reads", n)
	}
}

func TestPassiveWhileRunning(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		expect(t, conn, webapi.OpRun)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRun})
		expect(t, conn, webapi.OpRead)

		unexpected := make(chan struct{}, 10)
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
				unexpected <- struct{}{}
			}
		}()

		for _, s := range []string{"a", "b"} {
			reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRead, Output: s, State: webapi.StateRunning})

			select {
			case <-unexpected:
				t.Error("client sent a message while backend was running")
			case <-time.After(100 * time.Millisecond):
			}
		}

		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRead, Output: "c", State: webapi.StateDone})
	})

	_, rec := connect(t, b.config(), "")

	rec.next(t, "begin")
	for _, s := range []string{"a", "b", "c"} {
		if e := rec.next(t, "receive"); e.text != s {
			t.Errorf("output %q; expected %q", e.text, s)
		}
	}
	rec.next(t, "end")
}

func TestInputAcknowledgement(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		expect(t, conn, webapi.OpRun)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRun})
		expect(t, conn, webapi.OpRead)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRead, Output: "name? ", State: webapi.StateRunning})

		req := expect(t, conn, webapi.OpInput)
		if req.Input == nil || *req.Input != "" {
			t.Errorf("input: %v", req.Input)
		}
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpInput})

		expect(t, conn, webapi.OpRead)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRead, State: webapi.StateDone, ExitCode: exit(0)})
	})

	s, rec := connect(t, b.config(), "")

	rec.next(t, "begin")
	rec.next(t, "receive")

	if err := s.Input(""); err != nil {
		t.Fatal(err)
	}

	rec.next(t, "receive")
	rec.next(t, "end")
}

func TestUnauthorized(t *testing.T) {
	b := newBackend(t, func(*websocket.Conn) {
		t.Error("channel opened")
	})

	config := b.config()
	config.TicketURL = b.server.URL + "/forbidden"

	s := New(config)
	rec := newRecorder()

	err := s.Connect(context.Background(), rec)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error: %v", err)
	}

	if e := rec.next(t, "error"); e.text != "Unauthorized" {
		t.Errorf("message: %q", e.text)
	}
	rec.quiet(t, 50*time.Millisecond)

	if n := b.dials.Load(); n != 0 {
		t.Errorf("%d channel opens", n)
	}
	if state := s.State(); state != StateErrored {
		t.Errorf("state: %v", state)
	}
}

func TestTicketSourceFailure(t *testing.T) {
	s := New(&Config{
		Address: "ws://invalid.test/session",
		Tickets: TicketFunc(func(context.Context) (string, error) {
			return "", errors.New("no session cookie")
		}),
	})
	rec := newRecorder()

	if err := s.Connect(context.Background(), rec); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("error: %v", err)
	}
	if e := rec.next(t, "error"); e.text != "Unauthorized" {
		t.Errorf("message: %q", e.text)
	}
}

func TestErrorStatus(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		expect(t, conn, webapi.OpRun)
		reply(t, conn, webapi.Response{Status: webapi.StatusError, Operation: webapi.OpRun, Output: "sandbox unavailable"})
		conn.ReadMessage()
	})

	s, rec := connect(t, b.config(), "")

	rec.next(t, "begin")
	if e := rec.next(t, "error"); e.text != "sandbox unavailable" {
		t.Errorf("message: %q", e.text)
	}
	rec.quiet(t, 50*time.Millisecond)

	var protoErr *ProtocolError
	if !errors.As(s.Err(), &protoErr) || protoErr.Operation != webapi.OpRun {
		t.Errorf("error: %v", s.Err())
	}
}

func TestUnknownOperation(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		expect(t, conn, webapi.OpRun)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: "compile"})
		conn.ReadMessage()
	})

	s, rec := connect(t, b.config(), "")

	rec.next(t, "begin")
	if e := rec.next(t, "error"); !strings.Contains(e.text, "compile") {
		t.Errorf("message: %q", e.text)
	}
	if state := s.State(); state != StateErrored {
		t.Errorf("state: %v", state)
	}
}

func TestTransportClosedBeforeDone(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		expect(t, conn, webapi.OpRun)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRun})
		expect(t, conn, webapi.OpRead)
	})

	s, rec := connect(t, b.config(), "")

	rec.next(t, "begin")
	if e := rec.next(t, "error"); e.text != "connection closed" {
		t.Errorf("message: %q", e.text)
	}

	var transErr *TransportError
	if !errors.As(s.Err(), &transErr) || transErr.Op != "read" {
		t.Errorf("error: %v", s.Err())
	}
}

// brokenWriter loses the connection before starting the program.
type brokenWriter struct {
	*recorder
	s       *Session
	err     error
	pending int // Events queued when Run returned.
}

func (w *brokenWriter) Begin() {
	w.recorder.Begin()
	w.s.conn.UnderlyingConn().Close()
	w.err = w.s.Run("")
	w.pending = len(w.events)
}

func TestWriteFailureReportedByReader(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	s := New(b.config())
	defer s.Close()

	w := &brokenWriter{recorder: newRecorder(), s: s}
	if err := s.Connect(context.Background(), w); err != nil {
		t.Fatal(err)
	}

	var transErr *TransportError
	if !errors.As(w.err, &transErr) || transErr.Op != "write" {
		t.Errorf("run error: %v", w.err)
	}
	if w.pending != 1 {
		t.Errorf("%d events were queued by the writer", w.pending)
	}

	rec := w.recorder
	rec.next(t, "begin")
	if e := rec.next(t, "error"); e.text != "connection closed" {
		t.Errorf("message: %q", e.text)
	}
	rec.quiet(t, 50*time.Millisecond)

	if !errors.As(s.Err(), &transErr) || transErr.Op != "write" {
		t.Errorf("session error: %v", s.Err())
	}
	if state := s.State(); state != StateErrored {
		t.Errorf("state: %v", state)
	}
}

func TestInactivityTimeout(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		expect(t, conn, webapi.OpRun)
		conn.ReadMessage()
	})

	config := b.config()
	config.InactivityTimeout = 50 * time.Millisecond

	s, rec := connect(t, config, "")

	rec.next(t, "begin")
	rec.next(t, "error")

	if !errors.Is(s.Err(), ErrInactive) {
		t.Errorf("error: %v", s.Err())
	}
}

type countingConn struct {
	net.Conn
	closes *atomic.Int32
}

func (c countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

func TestTransportClosedOnce(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		expect(t, conn, webapi.OpRun)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRun})
		expect(t, conn, webapi.OpRead)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRead, State: webapi.StateDone, ExitCode: exit(0)})
		conn.ReadMessage()
	})

	var closes atomic.Int32

	config := b.config()
	config.Dialer = &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := new(net.Dialer).DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			return countingConn{conn, &closes}, nil
		},
	}

	s, rec := connect(t, config, "")

	rec.next(t, "begin")
	rec.next(t, "receive")
	rec.next(t, "end")

	for i := 0; closes.Load() == 0 && i < 100; i++ {
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Error(err)
	}
	if err := s.Close(); err != nil {
		t.Error(err)
	}

	if n := closes.Load(); n != 1 {
		t.Errorf("transport closed %d times", n)
	}
	rec.quiet(t, 50*time.Millisecond)
}

func TestSendWhenNotConnected(t *testing.T) {
	s := New(&Config{Address: "ws://invalid.test/session"})

	if err := s.Send(webapi.ReadRequest()); err != ErrNotConnected {
		t.Errorf("error: %v", err)
	}
}

func TestSendAfterEnd(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		expect(t, conn, webapi.OpRun)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRun})
		expect(t, conn, webapi.OpRead)
		reply(t, conn, webapi.Response{Status: webapi.StatusOK, Operation: webapi.OpRead, State: webapi.StateDone})
		conn.ReadMessage()
	})

	s, rec := connect(t, b.config(), "")

	rec.next(t, "begin")
	rec.next(t, "receive")
	rec.next(t, "end")

	if err := s.Input("late"); err != ErrNotConnected {
		t.Errorf("error: %v", err)
	}
	if e := rec.next(t, "error"); e.text != ErrNotConnected.Error() {
		t.Errorf("message: %q", e.text)
	}
	if state := s.State(); state != StateDone {
		t.Errorf("state: %v", state)
	}
}

func TestNoCallbacksWithoutTransportEvents(t *testing.T) {
	release := make(chan struct{})

	stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == webapi.PathTicket {
			json.NewEncoder(w).Encode(webapi.Ticket{Ticket: testTicket})
			return
		}
		<-release
	}))
	defer stall.Close()
	defer close(release)

	s := New(&Config{
		Address:          "ws" + strings.TrimPrefix(stall.URL, "http") + webapi.PathSession,
		TicketURL:        stall.URL + webapi.PathTicket,
		HandshakeTimeout: 100 * time.Millisecond,
	})
	rec := newRecorder()

	if err := s.Connect(context.Background(), rec); err == nil {
		t.Fatal("connected to a stalled backend")
	}

	rec.next(t, "error")
	rec.quiet(t, 50*time.Millisecond)
}

func TestSilentBackend(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	s := New(b.config())
	defer s.Close()

	rec := newRecorder()
	if err := s.Connect(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	rec.next(t, "begin")
	rec.quiet(t, 100*time.Millisecond)

	if state := s.State(); state != StateOpen {
		t.Errorf("state: %v", state)
	}
}

func TestCloseIsSilent(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	s := New(b.config())
	rec := newRecorder()
	if err := s.Connect(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	rec.next(t, "begin")

	s.Close()
	rec.quiet(t, 100*time.Millisecond)

	if state := s.State(); state != StateErrored {
		t.Errorf("state: %v", state)
	}
	if s.Err() != ErrClosed {
		t.Errorf("error: %v", s.Err())
	}
}

func TestReuse(t *testing.T) {
	b := newBackend(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	s := New(b.config())
	defer s.Close()

	if err := s.Connect(context.Background(), newRecorder()); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(context.Background(), newRecorder()); err != ErrReused {
		t.Errorf("error: %v", err)
	}
}

func TestChannelURL(t *testing.T) {
	for _, x := range []struct{ addr, url string }{
		{"wss://run.example/session", "wss://run.example/session?ticket=a%2Bb"},
		{"wss://run.example/session?lang=python", "wss://run.example/session?lang=python&ticket=a%2Bb"},
	} {
		if s := channelURL(x.addr, "a+b"); s != x.url {
			t.Errorf("%s: %s", x.addr, s)
		}
	}
}
