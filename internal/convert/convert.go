// Package convert turns uploaded documents into markdown for planning.
package convert

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// Converter renders raw document bytes as markdown.
type Converter interface {
	Convert(r io.Reader, filename string) (string, error)
}

// Options tunes individual converters.
type Options struct {
	// PDFFallbackPdftotext shells out to pdftotext when the Go PDF reader fails.
	PDFFallbackPdftotext bool
}

// SupportedExtensions lists file extensions this service can handle.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".csv":      true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// ForFile returns the appropriate converter for a filename.
func ForFile(filename string, opts Options) (Converter, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt":
		return &TextConverter{}, nil
	case ".md", ".markdown":
		return &MarkdownConverter{}, nil
	case ".csv":
		return &CSVConverter{}, nil
	case ".html", ".htm":
		return &HTMLConverter{}, nil
	case ".pdf":
		return &PDFConverter{FallbackPdftotext: opts.PDFFallbackPdftotext}, nil
	case ".docx":
		return &DOCXConverter{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %q", ext)
	}
}

// IsSupportedExtension checks if a file extension is supported.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Stem is the file name without directory or extension. Artifact names
// are derived from it.
func Stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// document accumulates markdown blocks separated by blank lines.
type document struct {
	blocks []string
}

func (d *document) heading(level int, text string) {
	text = oneLine(text)
	if text == "" {
		return
	}
	level = max(1, min(level, 6))
	d.blocks = append(d.blocks, strings.Repeat("#", level)+" "+text)
}

func (d *document) paragraph(text string) {
	if text = strings.TrimSpace(text); text != "" {
		d.blocks = append(d.blocks, text)
	}
}

func (d *document) raw(block string) {
	if strings.TrimSpace(block) != "" {
		d.blocks = append(d.blocks, strings.TrimRight(block, "\n"))
	}
}

// table renders rows as a pipe table; the first row is the header.
func (d *document) table(rows [][]string) {
	if len(rows) == 0 {
		return
	}
	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}
	if width == 0 {
		return
	}
	var b strings.Builder
	writeRow := func(r []string) {
		b.WriteString("|")
		for i := range width {
			cell := ""
			if i < len(r) {
				cell = cellText(r[i])
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}
	writeRow(rows[0])
	b.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, r := range rows[1:] {
		writeRow(r)
	}
	d.raw(b.String())
}

func (d *document) String() string {
	if len(d.blocks) == 0 {
		return ""
	}
	return strings.Join(d.blocks, "\n\n") + "\n"
}

func (d *document) empty() bool { return len(d.blocks) == 0 }

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func cellText(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", `\|`)
}
