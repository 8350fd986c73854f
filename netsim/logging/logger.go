// Package logging provides the leveled, colored loggers used across the
// simulator.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/fatih/color"
)

// Level is a logging threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a case-insensitive level name. An empty name is INFO.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Logger groups one *log.Logger per level. Levels below the threshold
// write to io.Discard.
type Logger struct {
	Debug *log.Logger
	Info  *log.Logger
	Warn  *log.Logger
	Error *log.Logger

	level Level
}

// New creates a Logger writing to out. Error lines go to errOut.
func New(out, errOut io.Writer, level Level) *Logger {
	flags := log.Ldate | log.Ltime

	l := &Logger{
		Debug: log.New(out, color.New(color.FgBlue).Sprint("[DEBUG] "), flags),
		Info:  log.New(out, color.New(color.FgGreen).Sprint("[INFO] "), flags),
		Warn:  log.New(out, color.New(color.FgYellow).Sprint("[WARN] "), flags),
		Error: log.New(errOut, color.New(color.FgRed).Sprint("[ERROR] "), flags),
		level: level,
	}

	if level > LevelDebug {
		l.Debug.SetOutput(io.Discard)
	}
	if level > LevelInfo {
		l.Info.SetOutput(io.Discard)
	}
	if level > LevelWarn {
		l.Warn.SetOutput(io.Discard)
	}
	return l
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return New(io.Discard, io.Discard, LevelError)
}

// Level returns the configured threshold.
func (l *Logger) Level() Level {
	return l.level
}

// With returns a copy of l whose lines are prefixed with "component: ".
func (l *Logger) With(component string) *Logger {
	sub := func(base *log.Logger) *log.Logger {
		return log.New(base.Writer(), base.Prefix(), base.Flags()|log.Lmsgprefix)
	}
	c := &Logger{
		Debug: sub(l.Debug),
		Info:  sub(l.Info),
		Warn:  sub(l.Warn),
		Error: sub(l.Error),
		level: l.level,
	}
	for _, lg := range []*log.Logger{c.Debug, c.Info, c.Warn, c.Error} {
		lg.SetPrefix(lg.Prefix() + component + ": ")
	}
	return c
}
