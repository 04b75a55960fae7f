// Copyright 2023 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

// Package log provides leveled logging for the bulk pipeline.
//
// Call graph:
// -> log.Info()
// -> LoggerImpl.Log()
// -> the event is formatted by EventFormatText and written to the writer
package log

import (
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// BaseLogger provides the basic logging functions
type BaseLogger interface {
	Log(skip int, level Level, format string, v ...any)
	GetLevel() Level
}

// LevelLogger provides level-related logging functions
type LevelLogger interface {
	LevelEnabled(level Level) bool

	Trace(format string, v ...any)
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
	Critical(format string, v ...any)
}

type Logger interface {
	BaseLogger
	LevelLogger
}

// Event represents a logging event
type Event struct {
	Time     time.Time
	Caller   string
	Filename string
	Line     int
	Level    Level

	MsgSimpleText string
}

// WriterMode is the common options of a log writer
type WriterMode struct {
	Level    Level
	Flags    int
	Prefix   string
	Colorize bool
}

// LoggerImpl is the default Logger, it writes formatted events to a single writer
type LoggerImpl struct {
	mu    sync.Mutex
	out   io.Writer
	mode  WriterMode
	level atomic.Int32
}

var _ Logger = (*LoggerImpl)(nil)

// NewLoggerWithWriter creates a logger writing to out
func NewLoggerWithWriter(out io.Writer, mode WriterMode) *LoggerImpl {
	switch mode.Flags {
	case 0:
		mode.Flags = LstdFlags
	case -1:
		mode.Flags = 0
	}
	if mode.Level == UNDEFINED {
		mode.Level = INFO
	}
	l := &LoggerImpl{out: out, mode: mode}
	l.level.Store(int32(mode.Level))
	return l
}

// SetLevel changes the level of the logger
func (l *LoggerImpl) SetLevel(level Level) {
	l.level.Store(int32(level))
}

// GetLevel returns the level of the logger
func (l *LoggerImpl) GetLevel() Level {
	return Level(l.level.Load())
}

// LevelEnabled checks if the level is enabled
func (l *LoggerImpl) LevelEnabled(level Level) bool {
	return level >= l.GetLevel()
}

// Log prepares the log event, if the level matches, the event will be written
func (l *LoggerImpl) Log(skip int, level Level, format string, v ...any) {
	if !l.LevelEnabled(level) {
		return
	}

	event := &Event{
		Time:  time.Now(),
		Level: level,
	}
	if pc, filename, line, ok := runtime.Caller(skip + 1); ok {
		event.Filename = filename
		event.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			event.Caller = fn.Name() + "()"
		}
	}
	if len(v) == 0 {
		event.MsgSimpleText = format
	} else {
		event.MsgSimpleText = fmt.Sprintf(format, v...)
	}

	msg := EventFormatText(&l.mode, event)
	l.mu.Lock()
	_, _ = l.out.Write(msg)
	l.mu.Unlock()
}

func (l *LoggerImpl) Trace(format string, v ...any) {
	l.Log(1, TRACE, format, v...)
}

func (l *LoggerImpl) Debug(format string, v ...any) {
	l.Log(1, DEBUG, format, v...)
}

func (l *LoggerImpl) Info(format string, v ...any) {
	l.Log(1, INFO, format, v...)
}

func (l *LoggerImpl) Warn(format string, v ...any) {
	l.Log(1, WARN, format, v...)
}

func (l *LoggerImpl) Error(format string, v ...any) {
	l.Log(1, ERROR, format, v...)
}

func (l *LoggerImpl) Critical(format string, v ...any) {
	l.Log(1, CRITICAL, format, v...)
}

// EventFormatText formats the event header and message as a single line
func EventFormatText(mode *WriterMode, event *Event) []byte {
	flags := mode.Flags
	var buf []byte

	if mode.Colorize {
		buf = append(buf, colorReset...)
	}
	buf = append(buf, mode.Prefix...)

	t := event.Time
	if flags&LUTC != 0 {
		t = t.UTC()
	}
	if flags&Ldate != 0 {
		buf = append(buf, t.Format("2006/01/02")...)
		buf = append(buf, ' ')
	}
	if flags&(Ltime|Lmicroseconds) != 0 {
		if flags&Lmicroseconds != 0 {
			buf = append(buf, t.Format("15:04:05.000000")...)
		} else {
			buf = append(buf, t.Format("15:04:05")...)
		}
		buf = append(buf, ' ')
	}

	if flags&(Lshortfile|Llongfile) != 0 && event.Filename != "" {
		file := event.Filename
		if flags&Lmedfile == Lmedfile {
			if len(file) > 20 {
				file = "..." + file[len(file)-20:]
			}
		} else if flags&Lshortfile != 0 {
			if i := strings.LastIndexByte(file, '/'); i >= 0 {
				file = file[i+1:]
			}
		}
		buf = append(buf, file...)
		buf = append(buf, ':')
		buf = append(buf, fmt.Sprint(event.Line)...)
		if flags&(Lfuncname|Lshortfuncname) != 0 {
			buf = append(buf, ':')
		} else {
			buf = append(buf, ' ')
		}
	}
	if flags&(Lfuncname|Lshortfuncname) != 0 && event.Caller != "" {
		caller := event.Caller
		if flags&Lshortfuncname != 0 {
			if i := strings.LastIndexByte(caller, '.'); i >= 0 {
				caller = caller[i+1:]
			}
		}
		buf = append(buf, caller...)
		buf = append(buf, ' ')
	}

	if flags&(Llevel|Llevelinitial) != 0 {
		level := strings.ToUpper(event.Level.String())
		if mode.Colorize {
			buf = append(buf, event.Level.color()...)
		}
		buf = append(buf, '[')
		if flags&Llevelinitial != 0 {
			buf = append(buf, level[0])
		} else {
			buf = append(buf, level...)
		}
		buf = append(buf, ']')
		if mode.Colorize {
			buf = append(buf, colorReset...)
		}
		buf = append(buf, ' ')
	}

	buf = append(buf, strings.TrimSuffix(event.MsgSimpleText, "\n")...)
	buf = append(buf, '\n')
	return buf
}
