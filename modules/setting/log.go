// Copyright 2019 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package setting

import (
	"os"

	"code.gitea.io/esbulk/modules/log"
)

// Log settings
var Log = struct {
	Level    log.Level
	Flags    int
	Prefix   string
	Colorize bool
}{
	Level: log.INFO,
	Flags: log.LstdFlags,
}

func loadLogFrom(rootCfg ConfigProvider) {
	sec := rootCfg.Section("log")
	Log.Level = log.LevelFromString(sec.Key("LEVEL").MustString("info"))
	Log.Flags = log.FlagsFromString(sec.Key("FLAGS").MustString("stdflags"))
	Log.Prefix = sec.Key("PREFIX").MustString("")
	Log.Colorize = sec.Key("COLORIZE").MustBool(log.CanColorStderr)
}

// InitLoggers replaces the default logger with one built from the [log] section
func InitLoggers() {
	log.SetLogger(log.NewLoggerWithWriter(os.Stderr, log.WriterMode{
		Level:    Log.Level,
		Flags:    Log.Flags,
		Prefix:   Log.Prefix,
		Colorize: Log.Colorize,
	}))
}
