// Copyright (c) 2018 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package public

import (
	"errors"
)

// Error text is safe to show to the user of a host application.
type Error interface {
	error
	PublicError() string
}

type simple string

func (e simple) Error() string       { return string(e) }
func (e simple) PublicError() string { return string(e) }

// New is like errors.New, but the result can be published.
func New(text string) error {
	return simple(text)
}

// ErrorString returns the PublicError() text of the first error in err's tree
// which has one.  Otherwise the alternative is returned.
func ErrorString(err error, alternative string) string {
	var x Error
	if errors.As(err, &x) {
		return x.PublicError()
	}
	return alternative
}
