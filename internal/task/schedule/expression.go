package schedule

import (
	"strings"
	"time"
)

// maxCorrectionPasses bounds the fixed-point loop in NextValidTime. A pass
// that changes nothing ends the loop; in practice two or three passes settle
// any expression.
const maxCorrectionPasses = 32

var templates = map[string]string{
	"@hourly":       "0 0 * *",
	"@every-minute": "0 * * *",
	"@every-second": "* * * *",
	"@midnight":     "0 0 0 *",
}

// Expression is a parsed four-field schedule: seconds, minutes, hours and
// day-of-week. It is immutable and safe for concurrent use.
type Expression struct {
	definition string
	fields     [len(fieldTypes)]Field
}

// Parse parses a definition such as "*/5 3/7 5-7 FRI-SUN" or "@hourly".
func Parse(definition string) (*Expression, error) {
	def := strings.TrimSpace(definition)
	if repl, ok := templates[strings.ToLower(def)]; ok {
		def = repl
	}

	parts := strings.Fields(def)
	if len(parts) < len(fieldTypes) {
		return nil, &ParseError{
			Definition: definition,
			Group:      -1,
			Reason:     "missing field: " + fieldTypes[len(parts)].String(),
		}
	}
	if len(parts) > len(fieldTypes) {
		return nil, &ParseError{
			Definition: definition,
			Group:      -1,
			Reason:     "unknown additional field: " + parts[len(fieldTypes)],
		}
	}

	e := &Expression{definition: def}
	for i, t := range fieldTypes {
		f, err := ParseField(t, parts[i])
		if err != nil {
			if pe, ok := err.(*ParseError); ok {
				pe.Definition = definition
			}
			return nil, err
		}
		e.fields[i] = f
	}
	return e, nil
}

// MustParse is like Parse but panics on error.
func MustParse(definition string) *Expression {
	e, err := Parse(definition)
	if err != nil {
		panic(err)
	}
	return e
}

// Definition returns the definition after template substitution.
func (e *Expression) Definition() string { return e.definition }

// Field returns the parsed field of the given type.
func (e *Expression) Field(t FieldType) Field { return e.fields[t] }

// NextValidTime returns the first whole second strictly after now at which
// every field matches. The result is always in UTC.
//
// Fields are corrected finest to coarsest. After a coarser field moves the
// candidate (e.g. into the next hour), every finer field is re-corrected,
// coarsest of them first, so that each lands on its earliest admissible value
// in the new window. Whole passes repeat until nothing moves.
func (e *Expression) NextValidTime(now time.Time) time.Time {
	ms := now.UnixMilli()
	next := ms + 1000 - floorMod(ms, 1000)

	for pass := 0; ; pass++ {
		if pass >= maxCorrectionPasses {
			panic(ErrNoConvergence)
		}
		before := next
		for i := range e.fields {
			next += e.fields[i].TimeToNextMatch(next)
			for j := i - 1; j >= 0; j-- {
				next += e.fields[j].TimeToNextMatch(next)
			}
		}
		if next == before {
			break
		}
	}
	return time.UnixMilli(next).UTC()
}

// Next makes Expression a cron.Schedule.
func (e *Expression) Next(t time.Time) time.Time { return e.NextValidTime(t) }

// Delay returns the time from now until NextValidTime(now).
func (e *Expression) Delay(now time.Time) time.Duration {
	return e.NextValidTime(now).Sub(now)
}

// Matches reports whether t, truncated to the second, satisfies every field.
func (e *Expression) Matches(t time.Time) bool {
	ms := t.UnixMilli()
	ms -= floorMod(ms, 1000)
	for i := range e.fields {
		if !e.fields[i].Matches(ms) {
			return false
		}
	}
	return true
}

func (e *Expression) String() string {
	parts := make([]string, 0, len(e.fields))
	for i := range e.fields {
		parts = append(parts, e.fields[i].String())
	}
	return strings.Join(parts, ", ")
}
