// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"github.com/sirupsen/logrus"
)

// Logger is the minimal printf-style logging surface an Instance carries;
// the slave dispatch loop logs failed opens and transport failures through
// it, and master operations do not log. Unlike a package-level logger
// singleton, it is a field on Instance so that concurrent instances on
// independent transports (§5) don't share mutable log state.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NopLogger discards everything. It is the zero-value default so that
// constructing an Instance without wiring a logger costs nothing.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Warnf(string, ...interface{})  {}
func (NopLogger) Errorf(string, ...interface{}) {}

// LogrusLogger adapts a *logrus.Logger (or *logrus.Entry) to Logger.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps log, tagging every line with the given instance
// name so multiple concurrent instances remain distinguishable in a shared
// log stream.
func NewLogrusLogger(log *logrus.Logger, instanceName string) *LogrusLogger {
	if log == nil {
		log = logrus.New()
	}
	return &LogrusLogger{entry: log.WithField("instance", instanceName)}
}

func (l *LogrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *LogrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *LogrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *LogrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
