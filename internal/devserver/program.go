// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type opcode int

const (
	opPrint opcode = iota
	opTurtle
	opInput
	opWait
	opExit
	opError
)

type command struct {
	op   opcode
	text string
	n    int
}

type program []command

// parseProgram accepts one command per line.  Empty lines and lines starting
// with # are ignored.
func parseProgram(source string) (program, error) {
	var prog program

	s := bufio.NewScanner(strings.NewReader(source))
	s.Buffer(nil, max(len(source)+1, bufio.MaxScanTokenSize))
	for num := 1; s.Scan(); num++ {
		line := strings.TrimRight(s.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, arg, _ := strings.Cut(line, " ")

		var (
			cmd command
			err error
		)

		switch name {
		case "print":
			cmd = command{op: opPrint, text: arg}

		case "turtle":
			if !json.Valid([]byte(arg)) {
				err = fmt.Errorf("invalid JSON")
			}
			cmd = command{op: opTurtle, text: arg}

		case "input":
			cmd = command{op: opInput}

		case "wait":
			cmd.op = opWait
			cmd.n, err = strconv.Atoi(strings.TrimSpace(arg))
			if err == nil && cmd.n < 0 {
				err = fmt.Errorf("negative duration")
			}

		case "exit":
			cmd.op = opExit
			cmd.n, err = strconv.Atoi(strings.TrimSpace(arg))

		case "error":
			cmd = command{op: opError, text: arg}

		default:
			err = fmt.Errorf("unknown command %q", name)
		}

		if err != nil {
			return nil, fmt.Errorf("line %d: %w", num, err)
		}
		prog = append(prog, cmd)
	}

	if err := s.Err(); err != nil {
		return nil, err
	}

	return prog, nil
}

func (cmd command) delay() time.Duration {
	return time.Duration(cmd.n) * time.Millisecond
}
