package importer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/etecture/generic-import-connector/internal/fileagent"
	"go.yaml.in/yaml/v3"
)

// Document is the progress payload of YAMLProcessor.
type Document struct {
	Index int `json:"index"`
	Value any `json:"value"`
}

// YAMLProcessor reports each document of a multi-document YAML stream.
type YAMLProcessor struct {
	types mediaTypes
}

func NewYAMLProcessor() *YAMLProcessor {
	return &YAMLProcessor{types: mediaTypes{"application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml"}}
}

func (p *YAMLProcessor) Name() string { return "yaml" }

func (p *YAMLProcessor) IsResponsibleFor(mimeType string) bool { return p.types.match(mimeType) }

func (p *YAMLProcessor) ProcessFile(ctx context.Context, id, _ string, _ fileagent.FileMeta, r io.Reader, l StatusListener) error {
	dec := yaml.NewDecoder(r)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var doc any
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// The decoder cannot resync after a syntax error.
			return fmt.Errorf("document %d: %w", i, err)
		}
		if doc == nil {
			l.OnWarning(id, "document %d is empty", i)
			continue
		}
		l.OnProgress(id, Document{Index: i, Value: doc})
	}
}
