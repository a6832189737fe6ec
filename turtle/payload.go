// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package turtle

import (
	"strings"
)

type PayloadKind int

const (
	PayloadText PayloadKind = iota
	PayloadLog
)

// Payload is either an instruction log or plain text.
type Payload struct {
	Kind PayloadKind
	Log  Log    // PayloadLog
	Text string // PayloadText
}

// ParsePayload decodes s as an instruction log if possible.  Any other
// content, including JSON which is not a well-formed log, is text.
func ParsePayload(s string) Payload {
	if trimmed := strings.TrimSpace(s); strings.HasPrefix(trimmed, "[") {
		if log, err := DecodeLog([]byte(trimmed)); err == nil {
			return Payload{Kind: PayloadLog, Log: log}
		}
	}

	return Payload{Kind: PayloadText, Text: s}
}
