// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courseware.dev/coderun/internal/cmdconf"
	"courseware.dev/coderun/internal/devserver"
	"courseware.dev/coderun/internal/devserver/sqltickets"
	"courseware.dev/coderun/internal/logging"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gorilla/handlers"
	"import.name/confi"
	_ "modernc.org/sqlite"

	. "import.name/type/context"
)

const DefaultServerName = "coderun-devserver"

const shutdownTimeout = 15 * time.Second

const (
	DefaultNet           = "tcp"
	DefaultAddr          = "localhost:8080"
	DefaultTicketsDriver = "sqlite"
)

var DefaultConfigFiles = []string{
	".config/coderun/devserver.toml",
	".config/coderun/devserver.d/*.toml",
}

type Config struct {
	HTTP struct {
		Net       string
		Addr      string
		AccessLog string
	}

	Session struct {
		PollDelay      time.Duration
		MaxMessageSize int64
	}

	Tickets struct {
		Lifetime time.Duration
		SQL      sqltickets.Config
	}

	Log logging.Config
}

var c = new(Config)

func main() {
	c.HTTP.Net = DefaultNet
	c.HTTP.Addr = DefaultAddr
	c.Session.PollDelay = devserver.DefaultPollDelay
	c.Session.MaxMessageSize = devserver.DefaultMaxMessageSize
	c.Tickets.Lifetime = devserver.DefaultTicketLifetime
	c.Tickets.SQL.Driver = DefaultTicketsDriver

	flag.Usage = confi.FlagUsage(nil, c)
	cmdconf.Parse(c, flag.CommandLine, false, DefaultConfigFiles...)

	c.HTTP.AccessLog = cmdconf.ExpandEnv(c.HTTP.AccessLog)
	c.Tickets.SQL.DSN = cmdconf.ExpandEnv(c.Tickets.SQL.DSN)

	log, err := logging.Init(&c.Log)
	if err != nil {
		log.Error("journal initialization failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := serve(ctx, log); err != nil {
		log.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1)
	}
}

func serve(ctx Context, log *slog.Logger) error {
	config := &devserver.Config{
		PollDelay:      c.Session.PollDelay,
		MaxMessageSize: c.Session.MaxMessageSize,
		TicketLifetime: c.Tickets.Lifetime,
		Log:            log,
	}

	if c.Tickets.SQL.Enabled() {
		tickets, err := sqltickets.Open(c.Tickets.SQL)
		if err != nil {
			return fmt.Errorf("tickets: %w", err)
		}
		defer tickets.Close()

		if err := tickets.Init(ctx); err != nil {
			return fmt.Errorf("tickets: %w", err)
		}
		config.Tickets = tickets
	}

	dev := devserver.New(config)

	var handler http.Handler = newWebHandler(dev)

	if c.HTTP.AccessLog != "" {
		f, err := os.OpenFile(c.HTTP.AccessLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
		if err != nil {
			return err
		}
		defer f.Close()

		handler = handlers.LoggingHandler(f, handler)
	}

	webServer := &http.Server{
		Handler:  handler,
		ErrorLog: slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}

	listener, err := net.Listen(c.HTTP.Net, c.HTTP.Addr)
	if err != nil {
		return err
	}
	defer listener.Close()

	exit := make(chan error, 1)

	go func() {
		exit <- webServer.Serve(listener)
	}()

	log.InfoContext(ctx, "listening", "addr", listener.Addr().String())

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		return err
	}

	select {
	case err := <-exit:
		return err

	case <-ctx.Done():
	}

	daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := webServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown: %w", err)
	}
	return nil
}

func newWebHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if h.Get("Server") == "" {
			h.Set("Server", DefaultServerName)
		}
		next.ServeHTTP(w, r)
	})
}
