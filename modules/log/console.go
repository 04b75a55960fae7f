// Copyright 2022 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package log

import (
	"os"

	"github.com/mattn/go-isatty"
)

// CanColorStderr reports whether escape sequences can be written to the standard error,
// it is false when the output goes to a pipe, a file or the journal
var CanColorStderr = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
