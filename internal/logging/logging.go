// Package logging configures the zerolog loggers used across the tool.
package logging

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Level names accepted by New and the log-level setting.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarn     = "WARN"
	LevelError    = "ERROR"
	LevelDisabled = "DISABLED"
)

// DefaultLevel is used when no level is configured.
const DefaultLevel = LevelInfo

// Levels lists the accepted level names.
var Levels = []string{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelDisabled}

const timeFormat = "02-01-2006 15:04:05.000"

var once sync.Once

// ParseLevel maps a level name (case-insensitive) to a zerolog level.
// Empty selects DefaultLevel.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return zerolog.InfoLevel, nil
	case LevelDebug:
		return zerolog.DebugLevel, nil
	case LevelInfo:
		return zerolog.InfoLevel, nil
	case LevelWarn:
		return zerolog.WarnLevel, nil
	case LevelError:
		return zerolog.ErrorLevel, nil
	case LevelDisabled:
		return zerolog.Disabled, nil
	}
	return zerolog.NoLevel, fmt.Errorf("%w %q (valid: %v)", ErrInvalidLevel, s, Levels)
}

// New returns a console logger writing to w at the given level.
func New(w io.Writer, level string) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	installMarshalers()

	out := zerolog.ConsoleWriter{
		Out:        w,
		NoColor:    true,
		TimeFormat: timeFormat,
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("%-6s", i))
		},
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger(), nil
}

// installMarshalers sets the process-wide zerolog hooks once: short caller
// names and MarshalStack for Event.Stack().
func installMarshalers() {
	once.Do(func() {
		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			if i := strings.LastIndex(file, "/"); i >= 0 {
				file = file[i+1:]
			}
			return file + ":" + strconv.Itoa(line)
		}
		zerolog.ErrorStackMarshaler = MarshalStack
	})
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// MarshalStack renders the stack recorded by github.com/pkg/errors anywhere
// in err's chain. An error without one gets the goroutine stack at the
// logging call instead, which points at the logger and not at the failure.
func MarshalStack(err error) interface{} {
	var st stackTracer
	if errors.As(err, &st) {
		return strings.TrimPrefix(fmt.Sprintf("%+v", st.StackTrace()), "\n")
	}
	return string(debug.Stack())
}
