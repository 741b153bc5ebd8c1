// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package simlog is a small leveled logger matching spec.md §6's
// general.log_level knob. The teacher's own packages (e.g.
// internal/ratelimiter/core/worker.go) log with bare fmt.Printf/Printf calls
// gated by ad hoc conditionals; this generalizes that same idiom into one
// type with the six levels the spec names, still built directly on the
// standard log package rather than a third-party structured logger — no
// package in the example corpus reaches for one as an application's own
// logger (see DESIGN.md).
package simlog

import (
	"log"
	"os"
)

// Level is one of the six levels spec.md §6 recognizes for general.log_level.
type Level int

const (
	NONE Level = iota
	ERROR
	WARNING
	INFO
	TEMP
	DEBUG
)

var names = map[string]Level{
	"NONE": NONE, "ERROR": ERROR, "WARNING": WARNING,
	"INFO": INFO, "TEMP": TEMP, "DEBUG": DEBUG,
}

// ParseLevel maps a config string to a Level, defaulting to INFO on an
// unrecognized value.
func ParseLevel(s string) Level {
	if l, ok := names[s]; ok {
		return l
	}
	return INFO
}

// Logger gates standard-library log output by level.
type Logger struct {
	level Level
	l     *log.Logger
}

// New constructs a Logger writing to stderr at the given level.
func New(level Level) *Logger {
	return &Logger{level: level, l: log.New(os.Stderr, "", log.LstdFlags)}
}

func (g *Logger) logf(level Level, tag, format string, args ...any) {
	if g == nil || g.level < level {
		return
	}
	g.l.Printf("["+tag+"] "+format, args...)
}

func (g *Logger) Errorf(format string, args ...any)   { g.logf(ERROR, "ERROR", format, args...) }
func (g *Logger) Warningf(format string, args ...any) { g.logf(WARNING, "WARNING", format, args...) }
func (g *Logger) Infof(format string, args ...any)    { g.logf(INFO, "INFO", format, args...) }
func (g *Logger) Tempf(format string, args ...any)    { g.logf(TEMP, "TEMP", format, args...) }
func (g *Logger) Debugf(format string, args ...any)   { g.logf(DEBUG, "DEBUG", format, args...) }
