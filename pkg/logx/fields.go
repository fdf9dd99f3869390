package logx

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Keys shared by every component, so the event sink and the history can
// pick them out of a record.
const (
	KeyEndpoint = "endpoint"
	KeyFile     = "file"
	KeyComp     = "comp"
)

// Field adds one key to a log line. Fields apply in order; the console
// renders them as key=value, the file and the event sink keep JSON.
type Field func(e *zerolog.Event)

func String(k, v string) Field { return func(e *zerolog.Event) { e.Str(k, v) } }

func Int(k string, v int) Field { return func(e *zerolog.Event) { e.Int(k, v) } }

func Int64(k string, v int64) Field { return func(e *zerolog.Event) { e.Int64(k, v) } }

func Uint64(k string, v uint64) Field { return func(e *zerolog.Event) { e.Uint64(k, v) } }

func Bool(k string, v bool) Field { return func(e *zerolog.Event) { e.Bool(k, v) } }

func Float64(k string, v float64) Field { return func(e *zerolog.Event) { e.Float64(k, v) } }

func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }

func Time(k string, v time.Time) Field { return func(e *zerolog.Event) { e.Time(k, v) } }

func Any(k string, v any) Field { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err adds the error under "err"; a nil error adds nothing.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Stack adds a goroutine stack, skipped when blank.
func Stack(stack string) Field {
	return func(e *zerolog.Event) {
		if strings.TrimSpace(stack) != "" {
			e.Str("stack", stack)
		}
	}
}

// Endpoint tags a line with the import endpoint it concerns.
func Endpoint(name string) Field { return String(KeyEndpoint, name) }

// File tags a line with the file it concerns.
func File(path string) Field { return String(KeyFile, path) }

// Comp names the component that logs.
func Comp(name string) Field { return String(KeyComp, name) }
