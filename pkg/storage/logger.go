package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Logger receives structured diagnostics from engines and the batch runner.
//
// This is intentionally minimal to avoid coupling callers to a specific logging
// library. Implementations should treat fields as a stable machine-readable contract.
type Logger interface {
	Log(level string, msg string, fields map[string]any)
}

// Log levels, lowest first.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var levelRank = map[string]int{LevelDebug: 0, LevelInfo: 1, LevelWarn: 2, LevelError: 3}

// StdLogger prints through the standard log package, either as one JSON object
// per line or as "level msg k=v ..." text. Entries below MinLevel are dropped.
type StdLogger struct {
	Prefix   string
	MinLevel string
	JSON     bool
}

// NewStdLogger returns a StdLogger; format is "json" or "text".
func NewStdLogger(prefix, level, format string) *StdLogger {
	return &StdLogger{Prefix: prefix, MinLevel: strings.ToLower(level), JSON: format != "text"}
}

// Log implements Logger.
func (l *StdLogger) Log(level string, msg string, fields map[string]any) {
	if levelRank[strings.ToLower(level)] < levelRank[l.MinLevel] {
		return
	}
	if !l.JSON {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		fmt.Fprintf(&b, "%s %s", strings.ToUpper(level), msg)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, fields[k])
		}
		log.Printf("[%s] %s", l.Prefix, b.String())
		return
	}

	// Best-effort structured printing using stdlib log.
	payload := map[string]any{
		"level": level,
		"msg":   msg,
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[%s] level=%s msg=%s fields=%v", l.Prefix, level, msg, fields)
		return
	}
	log.Printf("[%s] %s", l.Prefix, string(b))
}

// NopLogger discards everything.
type NopLogger struct{}

// Log implements Logger.
func (NopLogger) Log(string, string, map[string]any) {}

// badgerLogger routes BadgerDB's internal logging into a Logger.
type badgerLogger struct {
	l Logger
}

// BadgerLogger adapts l for BadgerOptions.Logger.
func BadgerLogger(l Logger) badger.Logger {
	return &badgerLogger{l: l}
}

func (b *badgerLogger) log(level, format string, args ...any) {
	b.l.Log(level, strings.TrimSpace(fmt.Sprintf(format, args...)), map[string]any{"component": "badger"})
}

func (b *badgerLogger) Errorf(format string, args ...any)   { b.log(LevelError, format, args...) }
func (b *badgerLogger) Warningf(format string, args ...any) { b.log(LevelWarn, format, args...) }
func (b *badgerLogger) Infof(format string, args ...any)    { b.log(LevelInfo, format, args...) }
func (b *badgerLogger) Debugf(format string, args ...any)   { b.log(LevelDebug, format, args...) }
