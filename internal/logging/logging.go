// Copyright (c) 2024 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging

import (
	"log/slog"
	"os"
	"time"

	"import.name/sjournal"

	. "import.name/type/context"
)

type Config struct {
	Journal bool
	Debug   bool
}

// Init returns some kind of logger on error.  The logger is also installed as
// the default.
func Init(c *Config) (*slog.Logger, error) {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}

	if !c.Journal {
		log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(log)
		return log, nil
	}

	opts := &sjournal.HandlerOptions{
		Delimiter:  sjournal.ColonDelimiter,
		TimeFormat: time.RFC3339Nano,
	}

	h, err := sjournal.NewHandler(opts)
	if err != nil {
		return slog.Default(), err
	}

	log := slog.New(leveler{h, level})

	slog.SetDefault(log)
	slog.SetLogLoggerLevel(level)

	return log, nil
}

// leveler filters records below a minimum level.
type leveler struct {
	slog.Handler
	level slog.Level
}

func (h leveler) Enabled(ctx Context, level slog.Level) bool {
	return level >= h.level && h.Handler.Enabled(ctx, level)
}

func (h leveler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return leveler{h.Handler.WithAttrs(attrs), h.level}
}

func (h leveler) WithGroup(name string) slog.Handler {
	return leveler{h.Handler.WithGroup(name), h.level}
}
