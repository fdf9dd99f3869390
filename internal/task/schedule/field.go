package schedule

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// FieldType is one position of an expression, ordered finest first.
type FieldType int

const (
	Seconds FieldType = iota
	Minutes
	Hours
	DayOfWeek
)

// fieldTypes lists every FieldType in evaluation order.
var fieldTypes = [...]FieldType{Seconds, Minutes, Hours, DayOfWeek}

type fieldBounds struct {
	name string
	min  int
	max  int
	unit int64 // milliseconds per tick
}

var bounds = [...]fieldBounds{
	Seconds:   {name: "SECONDS", min: 0, max: 60, unit: int64(time.Second / time.Millisecond)},
	Minutes:   {name: "MINUTES", min: 0, max: 60, unit: int64(time.Minute / time.Millisecond)},
	Hours:     {name: "HOURS", min: 0, max: 24, unit: int64(time.Hour / time.Millisecond)},
	DayOfWeek: {name: "DAY_OF_WEEK", min: 0, max: 7, unit: int64(24 * time.Hour / time.Millisecond)},
}

func (t FieldType) String() string {
	if t < Seconds || t > DayOfWeek {
		return "FieldType(" + strconv.Itoa(int(t)) + ")"
	}
	return bounds[t].name
}

func (t FieldType) Min() int     { return bounds[t].min }
func (t FieldType) Max() int     { return bounds[t].max }
func (t FieldType) Range() int64 { return int64(bounds[t].max - bounds[t].min) }

// Unit returns the length of one tick in milliseconds.
func (t FieldType) Unit() int64 { return bounds[t].unit }

// Actual returns the field's current value at the given Unix millisecond.
// DayOfWeek is the UTC calendar weekday with Monday = 0.
func (t FieldType) Actual(ms int64) int64 {
	if t == DayOfWeek {
		wd := time.UnixMilli(ms).UTC().Weekday()
		return int64((int(wd) + 6) % 7)
	}
	return floorMod(floorDiv(ms, t.Unit()), t.Range())
}

// FieldGroup is one start[-end][/divider] clause: the values
// start, start+divider, ... strictly below End.
type FieldGroup struct {
	Start   int
	End     int
	Divider int
}

// NewFieldGroup snaps end down so that (end-start) is a multiple of divider.
func NewFieldGroup(start, end, divider int) FieldGroup {
	if divider < 1 {
		divider = 1
	}
	return FieldGroup{Start: start, End: end - ((end - start) % divider), Divider: divider}
}

func (g FieldGroup) contains(v int64) bool {
	return int64(g.Start) <= v && v < int64(g.End) && (v-int64(g.Start))%int64(g.Divider) == 0
}

func (g FieldGroup) String() string {
	if g.Divider == 1 {
		if g.End == g.Start+1 {
			return strconv.Itoa(g.Start)
		}
		return fmt.Sprintf("%d-%d", g.Start, g.End)
	}
	return fmt.Sprintf("%d-%d/%d", g.Start, g.End, g.Divider)
}

// Field is one parsed position of an expression.
type Field struct {
	Type       FieldType
	Groups     []FieldGroup
	Definition string
}

var groupRe = regexp.MustCompile(`^(\d+)(?:-(\d+))?(?:/(\d+))?$`)

var weekdayAliases = []struct {
	re  *regexp.Regexp
	val string
}{
	{regexp.MustCompile(`(?i)MON`), "0"},
	{regexp.MustCompile(`(?i)TUE`), "1"},
	{regexp.MustCompile(`(?i)WED`), "2"},
	{regexp.MustCompile(`(?i)THU`), "3"},
	{regexp.MustCompile(`(?i)FRI`), "4"},
	{regexp.MustCompile(`(?i)SAT`), "5"},
	{regexp.MustCompile(`(?i)SUN`), "6"},
}

// ParseField parses a comma separated list of groups for the given type.
func ParseField(t FieldType, definition string) (Field, error) {
	f := Field{Type: t, Definition: definition}
	fail := func(group int, token, reason string) (Field, error) {
		return Field{}, &ParseError{Definition: definition, Field: t.String(), Group: group, Token: token, Reason: reason}
	}

	for i, tok := range strings.Split(definition, ",") {
		raw := tok
		if t == DayOfWeek {
			for _, a := range weekdayAliases {
				tok = a.re.ReplaceAllString(tok, a.val)
			}
		}
		tok = strings.ReplaceAll(tok, "*", fmt.Sprintf("%d-%d", t.Min(), t.Max()))

		m := groupRe.FindStringSubmatch(tok)
		if m == nil {
			return fail(i, raw, "group does not match start[-end][/divider]")
		}
		start, err := strconv.Atoi(m[1])
		if err != nil {
			return fail(i, raw, "invalid start")
		}
		divider := 1
		if m[3] != "" {
			if divider, err = strconv.Atoi(m[3]); err != nil || divider < 1 {
				return fail(i, raw, "divider must be >= 1")
			}
		}
		end := start + 1
		switch {
		case m[2] != "":
			if end, err = strconv.Atoi(m[2]); err != nil {
				return fail(i, raw, "invalid end")
			}
		case m[3] != "":
			end = t.Max()
		}
		if start < t.Min() || start >= t.Max() {
			return fail(i, raw, fmt.Sprintf("start %d out of range [%d,%d)", start, t.Min(), t.Max()))
		}
		if end > t.Max() {
			return fail(i, raw, fmt.Sprintf("end %d exceeds %d", end, t.Max()))
		}
		if end <= start {
			return fail(i, raw, "end must be greater than start")
		}
		g := NewFieldGroup(start, end, divider)
		if g.End <= g.Start {
			return fail(i, raw, "group admits no value")
		}
		f.Groups = append(f.Groups, g)
	}
	if len(f.Groups) == 0 {
		return fail(-1, "", "an empty field is not allowed")
	}
	sort.SliceStable(f.Groups, func(a, b int) bool { return f.Groups[a].Start < f.Groups[b].Start })
	return f, nil
}

// TimeToNextMatch returns the milliseconds to add to ms so that this field
// holds an admissible value. It is 0 when the field already matches.
//
// Inside a group the next aligned value is taken, a group ahead contributes
// its start, and when no group admits a later value in the current cycle the
// field wraps to the first group of the next one. The result lands on the
// start of the target tick.
func (f Field) TimeToNextMatch(ms int64) int64 {
	unit := f.Type.Unit()
	actual := f.Type.Actual(ms)
	frac := floorMod(ms, unit)

	best := int64(-1)
	for _, g := range f.Groups {
		start, end, div := int64(g.Start), int64(g.End), int64(g.Divider)
		var ticks int64
		switch {
		case actual < start:
			ticks = start - actual
		case actual < end:
			rest := (actual - start) % div
			if rest == 0 {
				return 0
			}
			ticks = div - rest
			if actual+ticks >= end {
				continue
			}
		default:
			continue
		}
		if best < 0 || ticks < best {
			best = ticks
		}
	}
	if best < 0 {
		best = int64(f.Groups[0].Start) - actual + f.Type.Range()
	}
	return best*unit - frac
}

// Matches reports whether the field's value at ms is admissible.
func (f Field) Matches(ms int64) bool {
	v := f.Type.Actual(ms)
	for _, g := range f.Groups {
		if g.contains(v) {
			return true
		}
	}
	return false
}

func (f Field) String() string {
	parts := make([]string, 0, len(f.Groups))
	for _, g := range f.Groups {
		parts = append(parts, g.String())
	}
	return f.Type.String() + "(" + strings.Join(parts, ",") + ")"
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
