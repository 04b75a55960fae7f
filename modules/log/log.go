// Copyright 2019 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package log

import (
	"os"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[LoggerImpl]

func init() {
	defaultLogger.Store(NewLoggerWithWriter(os.Stdout, WriterMode{Level: INFO, Flags: LstdFlags}))
}

// GetLogger returns the default logger
func GetLogger() *LoggerImpl {
	return defaultLogger.Load()
}

// SetLogger replaces the default logger
func SetLogger(l *LoggerImpl) {
	defaultLogger.Store(l)
}

// GetLevel returns the level of the default logger
func GetLevel() Level {
	return GetLogger().GetLevel()
}

func IsTrace() bool {
	return GetLevel() <= TRACE
}

func IsDebug() bool {
	return GetLevel() <= DEBUG
}

func Trace(format string, v ...any) {
	GetLogger().Log(1, TRACE, format, v...)
}

func Debug(format string, v ...any) {
	GetLogger().Log(1, DEBUG, format, v...)
}

func Info(format string, v ...any) {
	GetLogger().Log(1, INFO, format, v...)
}

func Warn(format string, v ...any) {
	GetLogger().Log(1, WARN, format, v...)
}

func Error(format string, v ...any) {
	GetLogger().Log(1, ERROR, format, v...)
}

func Critical(format string, v ...any) {
	GetLogger().Log(1, CRITICAL, format, v...)
}

// Fatal records fatal log and exit process
func Fatal(format string, v ...any) {
	GetLogger().Log(1, FATAL, format, v...)
	os.Exit(1)
}
