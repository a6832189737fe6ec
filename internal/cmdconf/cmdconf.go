// Copyright (c) 2020 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cmdconf

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"import.name/confi"
)

var errNoHome = errors.New("HOME environment variable is not set")

// JoinHome resolves a path relative to home directory.  Absolute paths are
// returned as is.
func JoinHome(dir string) (string, error) {
	if dir == "" || path.IsAbs(dir) {
		return dir, nil
	}

	home := os.Getenv("HOME")
	if home == "" {
		return "", errNoHome
	}
	return path.Join(home, dir), nil
}

// ExpandEnv replaces ${var} or $var in the string according to the values of
// the current environment variables.
func ExpandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Parse command-line flags into the configuration object.  Configuration
// files matching the default filename patterns are read first.  The patterns
// can be absolute, or relative to home directory.  Missing files are
// ignored.
func Parse(config any, flags *flag.FlagSet, lenient bool, defaults ...string) {
	fail := func(err error) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", flags.Name(), err)
		if !lenient {
			os.Exit(2)
		}
	}

	files, err := defaultFiles(defaults)
	if err != nil {
		fail(err)
	}

	reader := confi.FileReader(config)

	for _, filename := range files {
		if err := reader.Set(filename); err != nil {
			fail(err)
		}
	}

	flags.Var(reader, "f", "read a configuration file")
	flags.Var(confi.Assigner(config), "o", "set a configuration option (path.to.key=value)")

	if err := flags.Parse(os.Args[1:]); err != nil && !lenient {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
}

func defaultFiles(patterns []string) ([]string, error) {
	var files []string

	for _, pattern := range patterns {
		pattern, err := JoinHome(pattern)
		if err != nil {
			if err == errNoHome {
				continue
			}
			return nil, err
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)

		for _, filename := range matches {
			if info, err := os.Stat(filename); err == nil && info.Mode().IsRegular() {
				files = append(files, filename)
			}
		}
	}

	return files, nil
}
