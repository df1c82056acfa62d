// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package megaload

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const logTimeFormat = "15:04:05"

var (
	// debugEnabled controls whether debug output reaches the console
	debugEnabled = false
	// consoleOut receives console debug output
	consoleOut io.Writer = os.Stderr
	// logger is rebuilt whenever one of its outputs changes
	logger = zerolog.Nop()
)

func init() {
	if os.Getenv("MEGALOAD_DEBUG") != "" || os.Getenv("DEBUG") != "" {
		debugEnabled = true
	}
	rebuildLogger()
}

// rebuildLogger points the package logger at the console (when debug is
// enabled) and at the session log (when one is open).
func rebuildLogger() {
	var writers []io.Writer
	if debugEnabled && consoleOut != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: consoleOut, TimeFormat: logTimeFormat})
	}
	if sessionLogWriter != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: sessionLogWriter, NoColor: true, TimeFormat: logTimeFormat})
	}

	if len(writers) == 0 {
		logger = zerolog.Nop()
		return
	}
	logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
}

// Logger returns the package logger. Protocol events are logged at debug
// level with structured fields (state, byte, page, attempt).
func Logger() *zerolog.Logger {
	return &logger
}

// Debugf logs a formatted debug message.
// Always reaches the session log file (if initialized).
// Only reaches the console when debug mode is enabled.
func Debugf(format string, args ...any) {
	logger.Debug().Msgf(format, args...)
}

// Debugln logs its arguments, formatted with fmt.Sprint, as a debug message.
func Debugln(args ...any) {
	logger.Debug().Msg(strings.TrimSuffix(fmt.Sprint(args...), "\n"))
}

// SetDebugEnabled allows programmatic control of console debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
	rebuildLogger()
}

// SetDebugOutput redirects console debug output. nil silences the console
// while keeping the session log.
func SetDebugOutput(w io.Writer) {
	consoleOut = w
	rebuildLogger()
}
