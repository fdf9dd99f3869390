// Package schedule parses and evaluates four-field schedule expressions.
//
// An expression has the fields seconds, minutes, hours and day-of-week
// (0 = Monday, aliases MON..SUN). Each field is a comma separated list of
// groups of the form "*" or start[-end][/divider]. The templates @hourly,
// @every-minute, @every-second and @midnight expand to full expressions.
//
// Evaluation is pure arithmetic on Unix milliseconds in UTC:
//
//	e := schedule.MustParse("*/5 3/7 5-7 FRI-SUN")
//	next := e.NextValidTime(time.Now())
package schedule
