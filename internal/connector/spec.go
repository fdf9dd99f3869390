package connector

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidSpec = errors.New("connector: invalid endpoint spec")
	ErrStopped     = errors.New("connector: stopped")
)

// Spec describes one import endpoint.
type Spec struct {
	Name    string
	Path    string
	Pattern string
	// Schedule is a temporal expression or an every:/interval: form, see
	// scheduler.ParseRecurrence.
	Schedule   string
	StartDelay string
	MimeType   string
	Enabled    bool

	StopOnError bool
	Timeout     time.Duration
	// DedupWindow skips a file already imported with the same path and
	// modification time within the window. 0 disables dedup.
	DedupWindow time.Duration
}

// Equal reports whether both specs watch the same files on the same
// schedule.
func (s Spec) Equal(o Spec) bool {
	return s.Path == o.Path && s.Pattern == o.Pattern && s.Schedule == o.Schedule
}

func (s Spec) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name required", ErrInvalidSpec)
	}
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("%w: %s: path required", ErrInvalidSpec, s.Name)
	}
	if strings.TrimSpace(s.Schedule) == "" {
		return fmt.Errorf("%w: %s: schedule required", ErrInvalidSpec, s.Name)
	}
	if s.DedupWindow < 0 || s.Timeout < 0 {
		return fmt.Errorf("%w: %s: negative duration", ErrInvalidSpec, s.Name)
	}
	return nil
}

func scanName(endpoint string) string { return "scan:" + endpoint }
