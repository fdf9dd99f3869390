package fileagent

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// FileMeta describes one directory entry.
type FileMeta struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
}

// AgeWatermarkFilter accepts files whose name matches a pattern and whose
// modification time is strictly after the watermark. The watermark starts
// at the Unix epoch.
type AgeWatermarkFilter struct {
	pattern *regexp.Regexp
	now     func() time.Time

	mu        sync.Mutex
	watermark time.Time
}

// NewAgeWatermarkFilter compiles pattern, which must match the whole file
// name. An empty pattern accepts every name.
func NewAgeWatermarkFilter(pattern string, now func() time.Time) (*AgeWatermarkFilter, error) {
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("fileagent: invalid name pattern %q: %w", pattern, err)
	}
	if now == nil {
		now = time.Now
	}
	return &AgeWatermarkFilter{pattern: re, now: now, watermark: time.Unix(0, 0)}, nil
}

func (f *AgeWatermarkFilter) Accept(m FileMeta) bool {
	if !f.pattern.MatchString(m.Name) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return m.ModifiedAt.After(f.watermark)
}

// Reset moves the watermark to the current time. Files written after this
// call but stamped with an earlier mtime by a coarse filesystem clock are
// not picked up.
func (f *AgeWatermarkFilter) Reset() {
	now := f.now()
	f.mu.Lock()
	f.watermark = now
	f.mu.Unlock()
}

// Restore moves the watermark forward to t, for a scan taking over from an
// earlier one. An older t is ignored.
func (f *AgeWatermarkFilter) Restore(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.After(f.watermark) {
		f.watermark = t
	}
}

func (f *AgeWatermarkFilter) Watermark() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watermark
}

// Pattern returns the anchored expression used for names.
func (f *AgeWatermarkFilter) Pattern() string { return f.pattern.String() }
