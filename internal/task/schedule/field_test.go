package schedule

import "testing"

func TestNewFieldGroupSnapsEnd(t *testing.T) {
	t.Parallel()
	tests := []struct {
		start, end, div int
		wantEnd         int
	}{
		{start: 3, end: 60, div: 7, wantEnd: 59},
		{start: 0, end: 60, div: 7, wantEnd: 56},
		{start: 0, end: 60, div: 5, wantEnd: 60},
		{start: 4, end: 5, div: 1, wantEnd: 5},
		{start: 0, end: 60, div: 100, wantEnd: 0},
	}
	for _, tt := range tests {
		g := NewFieldGroup(tt.start, tt.end, tt.div)
		if g.End != tt.wantEnd {
			t.Fatalf("NewFieldGroup(%d,%d,%d).End = %d, want %d", tt.start, tt.end, tt.div, g.End, tt.wantEnd)
		}
	}
}

func TestParseFieldWeekdayAliases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		def  string
		want string
	}{
		{def: "MON", want: "DAY_OF_WEEK(0)"},
		{def: "sun", want: "DAY_OF_WEEK(6)"},
		{def: "FRI-SUN", want: "DAY_OF_WEEK(4-6)"},
		{def: "SAT,TUE", want: "DAY_OF_WEEK(1,5)"},
		{def: "*", want: "DAY_OF_WEEK(0-7)"},
	}
	for _, tt := range tests {
		f, err := ParseField(DayOfWeek, tt.def)
		if err != nil {
			t.Fatalf("ParseField(%q) error: %v", tt.def, err)
		}
		if got := f.String(); got != tt.want {
			t.Fatalf("ParseField(%q) = %s, want %s", tt.def, got, tt.want)
		}
	}
}

func TestActualDayOfWeekMondayZero(t *testing.T) {
	t.Parallel()
	// base is a Tuesday.
	if got := DayOfWeek.Actual(base.UnixMilli()); got != 1 {
		t.Fatalf("Actual(DayOfWeek) = %d, want 1", got)
	}
	if got := Hours.Actual(base.UnixMilli()); got != 1 {
		t.Fatalf("Actual(Hours) = %d, want 1", got)
	}
	if got := Minutes.Actual(base.UnixMilli()); got != 15 {
		t.Fatalf("Actual(Minutes) = %d, want 15", got)
	}
}

func TestTimeToNextMatch(t *testing.T) {
	t.Parallel()
	ms := base.UnixMilli() // 01:15:32.000
	tests := []struct {
		name string
		t    FieldType
		def  string
		want int64
	}{
		{name: "already matching", t: Seconds, def: "*", want: 0},
		{name: "aligned divider", t: Seconds, def: "*/4", want: 0},
		{name: "next aligned value", t: Seconds, def: "*/5", want: 3000},
		{name: "group ahead", t: Seconds, def: "40-50", want: 8000},
		{name: "wrap", t: Seconds, def: "10", want: 38000},
		{name: "overlapping groups take nearest", t: Seconds, def: "0-60/10,33", want: 1000},
		{name: "minute lands on tick start", t: Minutes, def: "20", want: 5*60000 - 32000},
		{name: "hour wraps to next day", t: Hours, def: "0", want: 23*3600000 - (15*60000 + 32000)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := ParseField(tt.t, tt.def)
			if err != nil {
				t.Fatalf("ParseField(%q) error: %v", tt.def, err)
			}
			if got := f.TimeToNextMatch(ms); got != tt.want {
				t.Fatalf("TimeToNextMatch = %d, want %d", got, tt.want)
			}
		})
	}
}
