// Copyright 2019 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package log

import "strings"

// Flags select the header written before each message, eg with LstdFlags:
// 2009/01/23 01:23:23 ...bulk/orchestrator.go:23:doRun() [I] message
const (
	Ldate          = 1 << iota // 2009/01/23 in the local time zone
	Ltime                      // 01:23:23 in the local time zone
	Lmicroseconds              // 01:23:23.123123, assumes Ltime
	Llongfile                  // /a/logger/c/d.go:23
	Lshortfile                 // d.go:23, overrides Llongfile
	Lfuncname                  // runtime.Caller()
	Lshortfuncname             // Caller()
	LUTC                       // date and time in UTC
	Llevelinitial              // [I]
	Llevel                     // [INFO]

	// Lmedfile keeps the last 20 characters of the filename
	Lmedfile = Lshortfile | Llongfile

	LstdFlags = Ldate | Ltime | Lmedfile | Lshortfuncname | Llevelinitial
)

var flagNames = map[string]int{
	"none":          0,
	"date":          Ldate,
	"time":          Ltime,
	"microseconds":  Lmicroseconds,
	"longfile":      Llongfile,
	"shortfile":     Lshortfile,
	"medfile":       Lmedfile,
	"funcname":      Lfuncname,
	"shortfuncname": Lshortfuncname,
	"utc":           LUTC,
	"levelinitial":  Llevelinitial,
	"level":         Llevel,
	"stdflags":      LstdFlags,
}

// FlagsFromString parses a comma separated list of flag names, unknown names are ignored.
// It returns -1 when no flag is set so that "none" is not taken for the default.
func FlagsFromString(from string) int {
	flags := 0
	for _, name := range strings.Split(strings.ToLower(from), ",") {
		flags |= flagNames[strings.TrimSpace(name)]
	}
	if flags == 0 {
		return -1
	}
	return flags
}
