// Copyright (c) 2021 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package internal

// CmdPanic configures command error behavior.  If this is changed to "1",
// commands will panic instead of printing error messages.  The stack traces
// can be helpful for debugging.
//
// This can be set during linking:
//
//	go build -ldflags="-X courseware.dev/coderun/internal.CmdPanic=1"
//
// This is not a stable feature: it may change or disappear at any time.
var CmdPanic string
