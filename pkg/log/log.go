// Copyright 2018 The gVisor Authors.
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

// Package log is a thin structured-logging facade over logrus, kept
// deliberately narrow (Debugf/Infof/Warningf) to match the call sites used
// throughout the sentry packages.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl := os.Getenv("POSIXCORE_LOG_LEVEL"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			l.SetLevel(parsed)
		}
	}
	return l
}

// SetLevel adjusts the minimum logged severity.
func SetLevel(lvl string) error {
	parsed, err := logrus.ParseLevel(lvl)
	if err != nil {
		return err
	}
	std.SetLevel(parsed)
	return nil
}

// SetFormatter swaps the active logrus formatter, e.g. to switch between
// text and JSON output at startup.
func SetFormatter(f logrus.Formatter) { std.SetFormatter(f) }

// Debugf logs at debug level.
func Debugf(format string, args ...any) { std.Debugf(format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { std.Infof(format, args...) }

// Warningf logs at warn level.
func Warningf(format string, args ...any) { std.Warnf(format, args...) }

// WithField returns an entry pre-populated with a field, for call sites
// that want to attach e.g. a task id to a run of log lines.
func WithField(key string, value any) *logrus.Entry {
	return std.WithField(key, value)
}
