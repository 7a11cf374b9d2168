// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log implements a library for logging.
//
// This is separate from the standard logging package because logging may be a
// high-impact activity, and therefore we wanted to provide as much flexibility
// as possible in the underlying implementation.
//
// Messages are formatted and written by logrus.
package log

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Level is the log level.
type Level uint32

// The following levels are fixed, and can never be changed. Since some control
// RPCs allow for changing the level as an integer, it is only possible to add
// additional levels, and the existing one cannot be removed.
const (
	// Warning indicates that output should always be emitted.
	Warning Level = iota

	// Info indicates that output should normally be emitted.
	Info

	// Debug indicates that output should not normally be emitted.
	Debug
)

// String implements fmt.Stringer.String.
func (l Level) String() string {
	switch l {
	case Warning:
		return "Warning"
	case Info:
		return "Info"
	case Debug:
		return "Debug"
	default:
		return fmt.Sprintf("Invalid level: %d", l)
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case Warning:
		return logrus.WarnLevel
	case Info:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// Logger is a high-level logging interface.
type Logger interface {
	// Debugf logs a debug statement.
	Debugf(format string, v ...any)

	// Infof logs at an info level.
	Infof(format string, v ...any)

	// Warningf logs at a warning level.
	Warningf(format string, v ...any)

	// IsLogging returns true iff this level is being logged. This may be
	// used to short-circuit expensive operations for debugging calls.
	IsLogging(level Level) bool
}

// BasicLogger is the default implementation of Logger.
type BasicLogger struct {
	// level is accessed atomically.
	level atomic.Uint32

	// Entry carries the fields attached to every message.
	*logrus.Entry
}

// NewBasicLogger returns a logger writing text to w at the given level.
func NewBasicLogger(w io.Writer, level Level) *BasicLogger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(textFormatter())
	bl := &BasicLogger{Entry: logrus.NewEntry(l)}
	bl.SetLevel(level)
	return bl
}

// Debugf implements logger.Debugf.
func (l *BasicLogger) Debugf(format string, v ...any) {
	l.Entry.Debugf(format, v...)
}

// Infof implements logger.Infof.
func (l *BasicLogger) Infof(format string, v ...any) {
	l.Entry.Infof(format, v...)
}

// Warningf implements logger.Warningf.
func (l *BasicLogger) Warningf(format string, v ...any) {
	l.Entry.Warnf(format, v...)
}

// IsLogging implements logger.IsLogging.
func (l *BasicLogger) IsLogging(level Level) bool {
	return Level(l.level.Load()) >= level
}

// SetLevel sets the logging level.
func (l *BasicLogger) SetLevel(level Level) {
	l.level.Store(uint32(level))
	l.Entry.Logger.SetLevel(level.logrus())
}

// SetOutput redirects all messages to w.
func (l *BasicLogger) SetOutput(w io.Writer) {
	l.Entry.Logger.SetOutput(w)
}

// SetFormat selects the message format: "text" or "json".
func (l *BasicLogger) SetFormat(format string) error {
	f, err := formatterFor(format)
	if err != nil {
		return err
	}
	l.Entry.Logger.SetFormatter(f)
	return nil
}

// With returns a logger that attaches key=value to every message.
func (l *BasicLogger) With(key string, value any) *BasicLogger {
	nl := &BasicLogger{Entry: l.Entry.WithField(key, value)}
	nl.level.Store(l.level.Load())
	return nl
}

// log is the default logger.
var log atomic.Pointer[BasicLogger]

func init() {
	log.Store(NewBasicLogger(os.Stderr, Info))
}

// Log retrieves the global logger.
func Log() *BasicLogger {
	return log.Load()
}

// SetTarget replaces the global logger.
func SetTarget(l *BasicLogger) {
	log.Store(l)
}

// SetLevel sets the log level of the global logger.
func SetLevel(newLevel Level) {
	Log().SetLevel(newLevel)
}

// Debugf logs to the global logger.
func Debugf(format string, v ...any) {
	Log().Debugf(format, v...)
}

// Infof logs to the global logger.
func Infof(format string, v ...any) {
	Log().Infof(format, v...)
}

// Warningf logs to the global logger.
func Warningf(format string, v ...any) {
	Log().Warningf(format, v...)
}

// IsLogging returns whether the global logger is logging.
func IsLogging(level Level) bool {
	return Log().IsLogging(level)
}
