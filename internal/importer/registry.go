package importer

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"
	"sync"

	"github.com/etecture/generic-import-connector/internal/fileagent"
)

// Processor imports one file. ProcessFile reports records through l using
// importID and returns an error only when the file could not be read to the
// end. ErrAborted means l asked it to stop.
type Processor interface {
	Name() string
	IsResponsibleFor(mimeType string) bool
	ProcessFile(ctx context.Context, importID, mimeType string, file fileagent.FileMeta, r io.Reader, l StatusListener) error
}

// Registry keeps processors in registration order.
type Registry struct {
	mu    sync.RWMutex
	procs []Processor
}

func NewRegistry(procs ...Processor) *Registry {
	r := &Registry{}
	for _, p := range procs {
		r.Register(p)
	}
	return r
}

// DefaultRegistry holds the built-in processors.
func DefaultRegistry() *Registry {
	return NewRegistry(NewLinesProcessor(), NewCSVProcessor(), NewTSVProcessor(), NewYAMLProcessor())
}

func (r *Registry) Register(p Processor) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.procs = append(r.procs, p)
	r.mu.Unlock()
}

// Lookup returns the first processor responsible for mimeType.
func (r *Registry) Lookup(mimeType string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.procs {
		if p.IsResponsibleFor(mimeType) {
			return p, true
		}
	}
	return nil, false
}

func (r *Registry) Processors() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Processor, len(r.procs))
	copy(out, r.procs)
	return out
}

var extTypes = map[string]string{
	".csv":  "text/csv",
	".tsv":  "text/tab-separated-values",
	".txt":  "text/plain",
	".log":  "text/plain",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
	".json": "application/json",
}

const octetStream = "application/octet-stream"

// DetectMimeType guesses the type from the file extension.
func DetectMimeType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return octetStream
	}
	if t, ok := extTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return MediaType(t)
	}
	return octetStream
}

// MediaType strips parameters and lowercases a mime type. Unparsable input
// is returned trimmed and lowercased.
func MediaType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return strings.ToLower(s)
	}
	return mt
}

// mediaTypes implements IsResponsibleFor for the built-in processors.
type mediaTypes []string

func (m mediaTypes) match(mimeType string) bool {
	mt := MediaType(mimeType)
	for _, t := range m {
		if t == mt {
			return true
		}
	}
	return false
}
