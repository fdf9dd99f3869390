package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/etecture/generic-import-connector/internal/task/schedule"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseRecurrence turns a config string into a Recurrence.
//
// Periodic forms: "every:5m", "interval:02:30", "@every 90s", a bare Go
// duration ("55m") or HH:MM ("00:50" is fifty minutes). The optional
// startDelay (a Go duration) applies to them only.
//
// Everything else is parsed as a schedule expression, e.g. "0 */15 * *" or
// "@hourly". The prefix "expr:" forces that.
func ParseRecurrence(raw, startDelay string) (Recurrence, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	for _, p := range []string{"every:", "interval:", "@every "} {
		if strings.HasPrefix(low, p) {
			return periodic(strings.TrimSpace(s[len(p):]), startDelay)
		}
	}
	if strings.HasPrefix(low, "expr:") {
		return expression(strings.TrimSpace(s[len("expr:"):]))
	}

	if !strings.ContainsAny(s, " \t") && !strings.HasPrefix(s, "@") {
		if reHHMM.MatchString(s) {
			return periodic(s, startDelay)
		}
		if _, err := time.ParseDuration(s); err == nil {
			return periodic(s, startDelay)
		}
	}
	return expression(s)
}

func expression(def string) (Recurrence, error) {
	e, err := schedule.Parse(def)
	if err != nil {
		return nil, err
	}
	return ExpressionRecurrence{Expr: e}, nil
}

func periodic(v, startDelay string) (Recurrence, error) {
	every, err := parseInterval(v)
	if err != nil {
		return nil, err
	}
	var delay time.Duration
	if sd := strings.TrimSpace(startDelay); sd != "" {
		delay, err = time.ParseDuration(sd)
		if err != nil {
			return nil, fmt.Errorf("invalid start delay %q: %w", startDelay, err)
		}
		if delay < 0 {
			return nil, fmt.Errorf("start delay must be >= 0")
		}
	}
	return Periodic{Delay: delay, Period: every}, nil
}

func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return 0, fmt.Errorf("invalid interval %q (use HH:MM or a Go duration like '55m')", v)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	if d < minPeriod {
		return 0, fmt.Errorf("interval %s is below the %s resolution", d, minPeriod)
	}
	return d, nil
}
