package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/etecture/generic-import-connector/internal/fileagent"
)

// Record is the progress payload of CSVProcessor. Fields are keyed by the
// header row.
type Record struct {
	Line   int               `json:"line"`
	Fields map[string]string `json:"fields"`
}

// CSVProcessor reads a delimited file with a header row and reports one
// Record per data row. Malformed rows go to OnError and are skipped.
type CSVProcessor struct {
	name  string
	comma rune
	types mediaTypes
}

func NewCSVProcessor() *CSVProcessor {
	return &CSVProcessor{name: "csv", comma: ',', types: mediaTypes{"text/csv", "application/csv"}}
}

func NewTSVProcessor() *CSVProcessor {
	return &CSVProcessor{name: "tsv", comma: '\t', types: mediaTypes{"text/tab-separated-values"}}
}

func (p *CSVProcessor) Name() string { return p.name }

func (p *CSVProcessor) IsResponsibleFor(mimeType string) bool { return p.types.match(mimeType) }

func (p *CSVProcessor) ProcessFile(ctx context.Context, id, _ string, file fileagent.FileMeta, r io.Reader, l StatusListener) error {
	cr := csv.NewReader(r)
	cr.Comma = p.comma
	cr.TrimLeadingSpace = !unicode.IsSpace(p.comma)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		l.OnWarning(id, "%s is empty", file.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			if !l.OnError(id, "line %d: %v", pe.Line, pe.Err) {
				return ErrAborted
			}
			continue
		}
		if err != nil {
			return err
		}

		line, _ := cr.FieldPos(0)
		fields := make(map[string]string, len(header))
		empty := true
		for i, v := range rec {
			if v != "" {
				empty = false
			}
			fields[header[i]] = v
		}
		if empty {
			l.OnWarning(id, "line %d has no values", line)
			continue
		}
		l.OnProgress(id, Record{Line: line, Fields: fields})
	}
}
