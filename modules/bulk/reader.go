// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package bulk

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"code.gitea.io/esbulk/modules/json"
)

const maxWorkLineSize = 64 << 20

// LineError is a line of a works stream which is not a valid work
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// WorkReader reads works written as one JSON object per line, blank lines are skipped
type WorkReader struct {
	scanner *bufio.Scanner
	line    int
}

func NewWorkReader(r io.Reader) *WorkReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxWorkLineSize)
	return &WorkReader{scanner: scanner}
}

// Next returns the next work and io.EOF at the end of the stream.
// An invalid line is returned as *LineError, reading may continue after it.
func (r *WorkReader) Next() (Work, error) {
	for r.scanner.Scan() {
		r.line++
		data := bytes.TrimSpace(r.scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		var w Work
		if err := json.Unmarshal(append([]byte(nil), data...), &w); err != nil {
			return Work{}, &LineError{Line: r.line, Err: fmt.Errorf("%w: %v", ErrInvalidWork, err)}
		}
		if err := w.Validate(); err != nil {
			return Work{}, &LineError{Line: r.line, Err: err}
		}
		return w, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Work{}, err
	}
	return Work{}, io.EOF
}

// Line is the line number of the work returned last
func (r *WorkReader) Line() int {
	return r.line
}
