package importer

import (
	"bufio"
	"context"
	"io"
	"unicode/utf8"

	"github.com/etecture/generic-import-connector/internal/fileagent"
)

const maxLineBytes = 1 << 20

// Line is the progress payload of LinesProcessor.
type Line struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// LinesProcessor reports every non-empty line of a text/plain file.
type LinesProcessor struct {
	types mediaTypes
}

func NewLinesProcessor() *LinesProcessor {
	return &LinesProcessor{types: mediaTypes{"text/plain"}}
}

func (p *LinesProcessor) Name() string { return "lines" }

func (p *LinesProcessor) IsResponsibleFor(mimeType string) bool { return p.types.match(mimeType) }

func (p *LinesProcessor) ProcessFile(ctx context.Context, id, _ string, _ fileagent.FileMeta, r io.Reader, l StatusListener) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	n := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n++
		text := sc.Text()
		if text == "" {
			continue
		}
		if !utf8.ValidString(text) {
			l.OnWarning(id, "line %d is not valid UTF-8", n)
		}
		l.OnProgress(id, Line{Number: n, Text: text})
	}
	return sc.Err()
}
