// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"courseware.dev/coderun/internal"
	"courseware.dev/coderun/internal/cmdconf"
	"courseware.dev/coderun/internal/logging"
	"courseware.dev/coderun/runner"
	"courseware.dev/coderun/session"
	"courseware.dev/coderun/turtle"
	"golang.org/x/term"
	"import.name/confi"
	"import.name/pan"

	. "import.name/pan/mustcheck"
)

const (
	DefaultAddress          = "ws://localhost:8080/session"
	DefaultTicketURL        = "http://localhost:8080/ticket"
	DefaultHandshakeTimeout = session.DefaultHandshakeTimeout
	DefaultCanvasWidth      = 400
	DefaultCanvasHeight     = 400
	DefaultHistoryFile      = ".cache/coderun/history" // Relative to home directory.
	DefaultHistoryLimit     = 500
)

// Defaults are relative to home directory.
var DefaultConfigFiles = []string{
	".config/coderun/client.toml",
	".config/coderun/client.d/*.toml",
}

type Config struct {
	Address           string
	TicketURL         string
	HandshakeTimeout  time.Duration
	InactivityTimeout time.Duration

	Canvas struct {
		Width     int
		Height    int
		MaxStep   float64
		FrameRate int
	}

	// Output is a PNG file which receives the final drawing.
	Output string

	REPL REPLConfig
	Log  logging.Config
}

var c = new(Config)

const usageHead = `Usage: %s [options] program

Run a program on a code execution server.  Program output is written to
standard output, and standard input is forwarded to the program.  Use - as
program to read it from standard input (input forwarding is disabled).

Options:
`

const usageTail = `
Default configuration is read from ~/.config/coderun/client.toml and
~/.config/coderun/client.d/*.toml.
`

func main() {
	os.Exit(mainResult())
}

func mainResult() (exitcode int) {
	if internal.CmdPanic == "" {
		defer func() {
			pan.Fatal(recover())
		}()
	}

	c.Address = DefaultAddress
	c.TicketURL = DefaultTicketURL
	c.HandshakeTimeout = DefaultHandshakeTimeout
	c.Canvas.Width = DefaultCanvasWidth
	c.Canvas.Height = DefaultCanvasHeight
	c.Canvas.MaxStep = turtle.DefaultMaxStep
	c.REPL.HistoryLimit = DefaultHistoryLimit
	if filename, err := cmdconf.JoinHome(DefaultHistoryFile); err == nil {
		c.REPL.HistoryFile = filename
	}

	configUsage := confi.FlagUsage(nil, c)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usageHead, flag.CommandLine.Name())
		configUsage()
		fmt.Fprint(flag.CommandLine.Output(), usageTail)
	}
	cmdconf.Parse(c, flag.CommandLine, false, DefaultConfigFiles...)

	if flag.NArg() != 1 {
		flag.Usage()
		return 2
	}

	c.Output = cmdconf.ExpandEnv(c.Output)
	c.REPL.HistoryFile = cmdconf.ExpandEnv(c.REPL.HistoryFile)

	log, err := logging.Init(&c.Log)
	Check(err)

	source := Must(readSource(flag.Arg(0)))

	raster := turtle.NewRaster(c.Canvas.Width, c.Canvas.Height, turtle.White)

	var (
		text  turtle.TextSink = sink{os.Stdout}
		input *prompt
	)
	if flag.Arg(0) != "-" && term.IsTerminal(int(os.Stdin.Fd())) {
		input = Must(newPrompt(&c.REPL))
		defer input.Close()
		text = sink{input.Stdout()}
	}

	r := runner.New(&runner.Config{
		Session: session.Config{
			Address:           c.Address,
			TicketURL:         c.TicketURL,
			HandshakeTimeout:  c.HandshakeTimeout,
			InactivityTimeout: c.InactivityTimeout,
			Log:               log,
		},
		Turtle: turtle.Config{
			MaxStep: c.Canvas.MaxStep,
			Log:     log,
		},
		FrameRate: c.Canvas.FrameRate,
		Log:       log,
	}, raster, text)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	switch {
	case input != nil:
		go input.forward(ctx, cancel, r)

	case flag.Arg(0) != "-":
		go forwardLines(ctx, r, os.Stdin)
	}

	result, err := r.Run(ctx, source)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintln(os.Stderr, session.ErrorString(err, err.Error()))
		return 1
	}

	if result.Err != nil {
		fmt.Fprintln(os.Stderr, session.ErrorString(result.Err, result.Err.Error()))
	}

	if c.Output != "" && raster.Drawn() {
		Check(writePNG(c.Output, raster))
	}

	if result.ExitCode != nil {
		return *result.ExitCode
	}
	return 0
}

func readSource(filename string) (string, error) {
	var (
		data []byte
		err  error
	)
	if filename == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(filename)
	}
	return string(data), err
}

func writePNG(filename string, raster *turtle.Raster) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if e := f.Close(); err == nil {
			err = e
		}
	}()

	return raster.WritePNG(f)
}

// sink adapts a writer to turtle.TextSink.  Terminal output is never cleared.
type sink struct {
	io.Writer
}

func (sink) Reset() {}
