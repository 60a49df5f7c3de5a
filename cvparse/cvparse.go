// Package cvparse extracts text from uploaded CV documents.
//
// Uploads arrive as in-memory byte slices, so all parsers work on bytes
// rather than paths. Supported formats:
//   - .pdf  — text extraction via pdfcpu (content stream decoding)
//   - .docx — Microsoft Word (archive/zip → word/document.xml)
//   - .md   — Markdown with heading detection
//   - .txt  — plain text passthrough with whitespace normalization
//
// The structured StudentProfile (interests, education) is derived elsewhere;
// this package only turns a document into clean text and sections.
package cvparse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned when neither the filename extension
	// nor the MIME type maps to a known document format.
	ErrUnsupportedFormat = errors.New("cvparse: unsupported format")

	// ErrParse wraps extraction failures on a recognized format
	// (corrupt archive, malformed PDF, empty content).
	ErrParse = errors.New("cvparse: parse failed")
)

// Format identifies a document type.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDocx Format = "docx"
	FormatMD   Format = "md"
	FormatTXT  Format = "txt"
)

// Section is a structural unit of an extracted document.
type Section struct {
	Title string `json:"title,omitempty"`
	Level int    `json:"level"` // heading level 1-6, 0 for body
	Text  string `json:"text"`
	Type  string `json:"type"` // heading, paragraph, page
}

// Document is the result of extracting an uploaded file.
type Document struct {
	Filename string    `json:"filename"`
	Format   Format    `json:"format"`
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
	RawText  string    `json:"raw_text"`
}

// DefaultMaxFileSize caps uploads at 10 MiB.
const DefaultMaxFileSize = 10 << 20

// Parser is the CV extraction engine.
type Parser struct {
	maxFileSize int
	logger      *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxFileSize overrides the upload size cap.
func WithMaxFileSize(n int) Option {
	return func(p *Parser) { p.maxFileSize = n }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// mimeFormats maps MIME types to formats for uploads with no useful
// extension.
var mimeFormats = map[string]Format{
	"application/pdf": FormatPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDocx,
	"text/markdown": FormatMD,
	"text/plain":    FormatTXT,
}

// Detect resolves the document format from the filename extension, falling
// back to the MIME type. Returns ErrUnsupportedFormat when neither matches.
func Detect(filename, mimeType string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF, nil
	case ".docx":
		return FormatDocx, nil
	case ".md", ".markdown":
		return FormatMD, nil
	case ".txt", ".text":
		return FormatTXT, nil
	}

	if mimeType != "" {
		mt, _, err := mime.ParseMediaType(mimeType)
		if err == nil {
			if f, ok := mimeFormats[mt]; ok {
				return f, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedFormat, filepath.Ext(filename), mimeType)
}

// Extract parses an uploaded document and returns its text content.
func (p *Parser) Extract(ctx context.Context, filename, mimeType string, data []byte) (*Document, error) {
	if len(data) > p.maxFileSize {
		return nil, fmt.Errorf("%w: file too large: %d bytes (max %d)", ErrParse, len(data), p.maxFileSize)
	}

	format, err := Detect(filename, mimeType)
	if err != nil {
		return nil, err
	}

	p.logger.DebugContext(ctx, "extracting document",
		"filename", filename, "format", format, "bytes", len(data))

	var title string
	var sections []Section

	switch format {
	case FormatPDF:
		title, sections, err = extractPDF(data)
	case FormatDocx:
		title, sections, err = extractDocx(data)
	case FormatMD:
		title, sections, err = extractMarkdown(data)
	case FormatTXT:
		title, sections, err = extractText(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %v", ErrParse, filename, format, err)
	}
	if len(sections) == 0 {
		return nil, fmt.Errorf("%w: %s: no text content", ErrParse, filename)
	}

	var sb strings.Builder
	for i, s := range sections {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if s.Title != "" && s.Title != s.Text {
			sb.WriteString(s.Title)
			sb.WriteByte('\n')
		}
		sb.WriteString(s.Text)
	}

	return &Document{
		Filename: filename,
		Format:   format,
		Title:    title,
		Sections: sections,
		RawText:  sb.String(),
	}, nil
}
