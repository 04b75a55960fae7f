// Copyright 2019 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package log

import "strings"

// Level is the level of the logger
type Level int

const (
	UNDEFINED Level = iota
	TRACE
	DEBUG
	INFO
	WARN
	ERROR
	FATAL
	NONE
)

// CRITICAL is kept for callers reporting broken invariants, it is written as an error
const CRITICAL = ERROR

var levelNames = [...]string{
	UNDEFINED: "undefined",
	TRACE:     "trace",
	DEBUG:     "debug",
	INFO:      "info",
	WARN:      "warn",
	ERROR:     "error",
	FATAL:     "fatal",
	NONE:      "none",
}

// SGR sequences, bold + foreground except fatal which is on a red background
var levelColors = [...]string{
	TRACE: "\033[1;36m",
	DEBUG: "\033[1;34m",
	INFO:  "\033[1;32m",
	WARN:  "\033[1;33m",
	ERROR: "\033[1;31m",
	FATAL: "\033[1;41m",
}

const colorReset = "\033[0m"

func (l Level) valid() bool {
	return l >= UNDEFINED && l <= NONE
}

func (l Level) String() string {
	if !l.valid() {
		return "info"
	}
	return levelNames[l]
}

// color returns the escape sequence used for the level, reset for levels without color
func (l Level) color() string {
	if l < 0 || int(l) >= len(levelColors) || levelColors[l] == "" {
		return colorReset
	}
	return levelColors[l]
}

// LevelFromString takes a level string and returns a Level, unknown levels are INFO
func LevelFromString(level string) Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		return WARN
	}
	for l, name := range levelNames {
		if name == level {
			return Level(l)
		}
	}
	return INFO
}
