// Package scheduler arms recurring work on a timer facility and hands every
// fire to an executor (the task engine).
//
// Two recurrence kinds share one code path: an expression recurrence is
// re-derived from the current time after each fire, so a late fire never
// compounds into drift, and a periodic recurrence uses the facility's native
// fixed-rate mode. The scheduler never runs work itself.
package scheduler
