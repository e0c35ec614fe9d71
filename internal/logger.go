// Package internal holds the logger and configuration shared by the imgdrop
// client and the imgdropd daemon.
package internal

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pterm/pterm"
)

// FieldKey names a structured log field. Transfer, session and catalog code
// use the constants below so the same fact is always logged under one key.
type FieldKey string

const (
	FieldError    FieldKey = "error"
	FieldServer   FieldKey = "server"
	FieldPort     FieldKey = "port"
	FieldPeer     FieldKey = "peer"
	FieldSession  FieldKey = "session"
	FieldSeq      FieldKey = "seq"
	FieldBytes    FieldKey = "bytes"
	FieldCommand  FieldKey = "command"
	FieldFilename FieldKey = "filename"
	FieldAuthor   FieldKey = "author"
	CatalogPath   FieldKey = "catalog_path"
	ConfigPath    FieldKey = "config_path"
)

type Fields map[FieldKey]any

type Level = pterm.LogLevel

const (
	LevelTrace Level = pterm.LogLevelTrace
	LevelDebug Level = pterm.LogLevelDebug
	LevelInfo  Level = pterm.LogLevelInfo
	LevelWarn  Level = pterm.LogLevelWarn
	LevelError Level = pterm.LogLevelError
)

var levelNames = map[string]Level{
	"trace":   LevelTrace,
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// Chunk traffic is logged at trace and debug, so the keys that identify an
// exchange get colours to stay readable in a busy terminal.
var keyStyles = map[string]pterm.Style{
	string(FieldError):   *pterm.NewStyle(pterm.FgRed, pterm.Bold),
	string(FieldPeer):    *pterm.NewStyle(pterm.FgCyan),
	string(FieldSeq):     *pterm.NewStyle(pterm.FgYellow),
	string(FieldCommand): *pterm.NewStyle(pterm.FgMagenta, pterm.Bold),
}

var (
	loggerMu sync.RWMutex
	logger   = newLogger(LevelInfo)
	level    = LevelInfo
)

func newLogger(lvl Level) *pterm.Logger {
	return pterm.DefaultLogger.
		WithLevel(lvl).
		WithTime(true).
		WithTimeFormat(time.RFC3339).
		WithMaxWidth(120).
		WithCaller(false).
		AppendKeyStyles(keyStyles)
}

// ParseLevel maps a config or flag value such as "debug" to a Level.
func ParseLevel(name string) (Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return LevelInfo, nil
	}
	lvl, ok := levelNames[name]
	if !ok {
		return LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
	return lvl, nil
}

// ConfigureLogger applies the log_level setting. An unknown name falls back to
// info and is reported so the caller can warn about it.
func ConfigureLogger(name string) error {
	lvl, err := ParseLevel(name)
	SetLogLevel(lvl)
	return err
}

func SetLogLevel(lvl Level) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	level = lvl
	logger = newLogger(lvl)
}

func getLevel() Level {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return level
}

func log(lvl Level, msg string, fields Fields) {
	loggerMu.RLock()
	l, current := logger, level
	loggerMu.RUnlock()
	if lvl < current {
		return
	}

	args := loggerArgs(fields)
	switch lvl {
	case LevelTrace:
		l.Trace(msg, args)
	case LevelDebug:
		l.Debug(msg, args)
	case LevelWarn:
		l.Warn(msg, args)
	case LevelError:
		l.Error(msg, args)
	default:
		l.Info(msg, args)
	}
}

// loggerArgs orders fields by key so repeated events line up.
func loggerArgs(fields Fields) []pterm.LoggerArgument {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	args := make([]pterm.LoggerArgument, 0, len(keys))
	for _, k := range keys {
		args = append(args, pterm.LoggerArgument{Key: k, Value: fields[FieldKey(k)]})
	}
	return args
}

func Trace(msg string, fields Fields) { log(LevelTrace, msg, fields) }
func Debug(msg string, fields Fields) { log(LevelDebug, msg, fields) }
func Info(msg string, fields Fields)  { log(LevelInfo, msg, fields) }
func Warn(msg string, fields Fields)  { log(LevelWarn, msg, fields) }
func Error(msg string, fields Fields) { log(LevelError, msg, fields) }

// With returns a copy of base extended with extra. extra wins on key collisions.
// Handlers build a per-request field set once and extend it per event.
func With(base Fields, extra Fields) Fields {
	out := make(Fields, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
