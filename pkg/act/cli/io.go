// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
)

// IO holds the streams of a command. Results go to Out, progress to Err.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// Logf writes a progress line to Err. It does nothing when Err is unset.
func (c IO) Logf(format string, args ...any) {
	if c.Err == nil {
		return
	}
	fmt.Fprintf(c.Err, format+"\n", args...)
}
