package schedule

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidExpression = errors.New("invalid schedule expression")
	ErrNoConvergence     = errors.New("schedule expression did not converge")
)

// ParseError describes why a definition could not be parsed.
//
// Field is empty for errors that concern the whole expression (field count).
// Group is the zero-based index of the offending comma-separated group, or -1.
type ParseError struct {
	Definition string
	Field      string
	Group      int
	Token      string
	Reason     string
}

func (e *ParseError) Error() string {
	switch {
	case e.Field == "":
		return fmt.Sprintf("cannot parse schedule expression %q: %s", e.Definition, e.Reason)
	case e.Group < 0:
		return fmt.Sprintf("cannot parse schedule expression %q: field %s: %s", e.Definition, e.Field, e.Reason)
	default:
		return fmt.Sprintf("cannot parse schedule expression %q: field %s group %d (%q): %s",
			e.Definition, e.Field, e.Group, e.Token, e.Reason)
	}
}

func (e *ParseError) Unwrap() error { return ErrInvalidExpression }
