package schedule

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var base = time.Date(2013, time.May, 7, 1, 15, 32, 0, time.UTC) // Tuesday

func TestNextValidTime(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{name: "hourly", expr: "@hourly", from: base, want: time.Date(2013, 5, 7, 2, 0, 0, 0, time.UTC)},
		{name: "every minute", expr: "@every-minute", from: base, want: time.Date(2013, 5, 7, 1, 16, 0, 0, time.UTC)},
		{name: "every second", expr: "@every-second", from: base, want: time.Date(2013, 5, 7, 1, 15, 33, 0, time.UTC)},
		{name: "midnight", expr: "@midnight", from: base, want: time.Date(2013, 5, 8, 0, 0, 0, 0, time.UTC)},
		{name: "template case", expr: "@HOURLY", from: base, want: time.Date(2013, 5, 7, 2, 0, 0, 0, time.UTC)},
		{name: "complex", expr: "*/5 3/7 5-7 FRI-SUN", from: base, want: time.Date(2013, 5, 10, 5, 3, 0, 0, time.UTC)},
		{
			name: "complex re-evaluated",
			expr: "*/5 3/7 5-7 FRI-SUN",
			from: time.Date(2013, 5, 10, 5, 3, 0, 0, time.UTC),
			want: time.Date(2013, 5, 10, 5, 3, 5, 0, time.UTC),
		},
		{
			name: "complex minute carry",
			expr: "*/5 3/7 5-7 FRI-SUN",
			from: time.Date(2013, 5, 10, 5, 3, 56, 0, time.UTC),
			want: time.Date(2013, 5, 10, 5, 10, 0, 0, time.UTC),
		},
		{name: "exact weekday", expr: "0 3 9 WED", from: base, want: time.Date(2013, 5, 8, 9, 3, 0, 0, time.UTC)},
		{name: "lowercase weekday", expr: "0 3 9 wed", from: base, want: time.Date(2013, 5, 8, 9, 3, 0, 0, time.UTC)},
		{name: "list", expr: "0 0,30 * *", from: base, want: time.Date(2013, 5, 7, 1, 30, 0, 0, time.UTC)},
		{name: "wrap to next week", expr: "0 0 0 MON", from: base, want: time.Date(2013, 5, 13, 0, 0, 0, 0, time.UTC)},
		{name: "sub-second input", expr: "@every-second", from: base.Add(250 * time.Millisecond), want: time.Date(2013, 5, 7, 1, 15, 33, 0, time.UTC)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.expr, err)
			}
			got := e.NextValidTime(tt.from)
			if !got.Equal(tt.want) {
				t.Fatalf("NextValidTime(%s) = %s, want %s", tt.from.Format(time.RFC3339), got.Format(time.RFC3339), tt.want.Format(time.RFC3339))
			}
			if !e.Matches(got) {
				t.Fatalf("Matches(%s) = false for returned time", got.Format(time.RFC3339))
			}
		})
	}
}

func TestHourlyDelayFromBase(t *testing.T) {
	t.Parallel()
	e := MustParse("@hourly")
	if got, want := e.Delay(base), 2668*time.Second; got != want {
		t.Fatalf("Delay = %v, want %v", got, want)
	}
	if got, want := MustParse("@every-minute").Delay(base), 28*time.Second; got != want {
		t.Fatalf("Delay = %v, want %v", got, want)
	}
}

// The result must be the earliest matching second after now. Compare against
// a brute-force walk over whole seconds.
func TestNextValidTimeIsEarliestMatch(t *testing.T) {
	t.Parallel()
	exprs := []string{
		"*/5 3/7 5-7 FRI-SUN",
		"0,30 */15 * *",
		"10-20/4 59 23 SUN",
		"0-10/3,5 * * *",
		"0 0 12 TUE,THU",
	}
	starts := []time.Time{
		base,
		time.Date(2013, 5, 10, 5, 52, 58, 900*int(time.Millisecond), time.UTC),
		time.Date(2013, 5, 12, 23, 59, 59, 0, time.UTC),
	}
	for _, def := range exprs {
		e := MustParse(def)
		for _, from := range starts {
			got := e.NextValidTime(from)
			if !got.After(from) {
				t.Fatalf("%q from %s: got %s, want a later instant", def, from, got)
			}
			if !e.Matches(got) {
				t.Fatalf("%q from %s: returned %s does not match", def, from, got)
			}
			cur := from.Truncate(time.Second).Add(time.Second)
			for cur.Before(got) {
				if e.Matches(cur) {
					t.Fatalf("%q from %s: returned %s but %s matches earlier", def, from, got, cur)
				}
				cur = cur.Add(time.Second)
			}
		}
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		expr string
		want string
	}{
		{name: "missing day of week", expr: "0 0 0", want: "missing field: DAY_OF_WEEK"},
		{name: "missing minutes", expr: "0", want: "missing field: MINUTES"},
		{name: "empty", expr: "", want: "missing field: SECONDS"},
		{name: "extra field", expr: "0 0 0 0 0", want: "unknown additional field"},
		{name: "letters", expr: "a * * *", want: "SECONDS group 0"},
		{name: "zero divider", expr: "*/0 * * *", want: "divider must be >= 1"},
		{name: "start out of range", expr: "70 * * *", want: "out of range"},
		{name: "end exceeds", expr: "* * 3-25 *", want: "exceeds"},
		{name: "reversed", expr: "* 5-3 * *", want: "end must be greater than start"},
		{name: "unknown weekday", expr: "* * * MOO", want: "DAY_OF_WEEK"},
		{name: "second group", expr: "* 1,x * *", want: "MINUTES group 1"},
		{name: "divider too large", expr: "*/100 * * *", want: "admits no value"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, err := Parse(tt.expr)
			if err == nil {
				t.Fatalf("Parse(%q) = %v, want error", tt.expr, e)
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("error type = %T, want *ParseError", err)
			}
			if !errors.Is(err, ErrInvalidExpression) {
				t.Fatalf("errors.Is(err, ErrInvalidExpression) = false")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestExpressionString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		expr string
		want string
	}{
		{expr: "@hourly", want: "SECONDS(0), MINUTES(0), HOURS(0-24), DAY_OF_WEEK(0-7)"},
		{expr: "*/5 3/7 5-7 FRI-SUN", want: "SECONDS(0-60/5), MINUTES(3-59/7), HOURS(5-7), DAY_OF_WEEK(4-6)"},
	}
	for _, tt := range tests {
		if got := MustParse(tt.expr).String(); got != tt.want {
			t.Fatalf("String(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}

func TestMustParsePanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("MustParse did not panic")
		}
	}()
	MustParse("0 0")
}
