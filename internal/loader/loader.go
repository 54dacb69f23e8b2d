// Package loader turns files on disk into domain documents. Plain text and
// markdown are read as is; PDF and DOCX go through an Extractor.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docrag/internal/domain"
)

// Extractor pulls plain text out of one file format.
type Extractor interface {
	// Extract returns the text of the file and a title when the format
	// carries one. path is the file on disk, data its raw bytes.
	Extract(ctx context.Context, path string, data []byte) (text, title string, err error)
}

// Input names a file to load. Hash, when set, is the canonical content hash
// computed by the caller over the original bytes and is used as is.
type Input struct {
	Path string
	Hash string
}

// Loader dispatches files to extractors by extension.
type Loader struct {
	extractors map[string]Extractor
	logger     *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithExtractor registers e for ext (with leading dot), replacing any default.
func WithExtractor(ext string, e Extractor) Option {
	return func(l *Loader) { l.extractors[strings.ToLower(ext)] = e }
}

// WithPDFTool points the PDF extractor at a specific pdftotext binary.
func WithPDFTool(tool string) Option {
	return func(l *Loader) {
		if tool != "" {
			l.extractors[".pdf"] = NewPDFWithRunner(execRunner{}, tool)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New returns a loader handling .txt, .md, .markdown, .docx and .pdf.
func New(opts ...Option) *Loader {
	l := &Loader{
		extractors: map[string]Extractor{
			".txt":      PlainText{},
			".md":       Markdown{},
			".markdown": Markdown{},
			".docx":     Docx{},
			".pdf":      NewPDF(),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Extensions lists the supported extensions in sorted order.
func (l *Loader) Extensions() []string {
	exts := make([]string, 0, len(l.extractors))
	for ext := range l.extractors {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// CheckTools reports the first external extraction tool that is missing.
// Formats handled in process never fail.
func (l *Loader) CheckTools() error {
	for _, ext := range l.Extensions() {
		if c, ok := l.extractors[ext].(interface{ CheckAvailable() error }); ok {
			if err := c.CheckAvailable(); err != nil {
				return fmt.Errorf("%s files: %w", ext, err)
			}
		}
	}
	return nil
}

// Supports reports whether path has a registered extension.
func (l *Loader) Supports(path string) bool {
	_, ok := l.extractors[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load loads every input in order and stops at the first failure.
func (l *Loader) Load(ctx context.Context, inputs []Input) ([]domain.Document, error) {
	docs := make([]domain.Document, 0, len(inputs))
	for _, in := range inputs {
		doc, err := l.LoadFile(ctx, in)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// LoadFile reads one file. Unknown extensions fail with ErrUnsupportedFormat
// and extraction failures with ErrParse.
func (l *Loader) LoadFile(ctx context.Context, in Input) (domain.Document, error) {
	ext := strings.ToLower(filepath.Ext(in.Path))
	extractor, ok := l.extractors[ext]
	if !ok {
		return domain.Document{}, fmt.Errorf("%s: extension %q: %w", in.Path, ext, domain.ErrUnsupportedFormat)
	}
	data, err := os.ReadFile(in.Path)
	if err != nil {
		return domain.Document{}, fmt.Errorf("read %s: %w", in.Path, err)
	}

	text, title, err := extractor.Extract(ctx, in.Path, data)
	if err != nil {
		return domain.Document{}, fmt.Errorf("%s: %w: %w", in.Path, domain.ErrParse, err)
	}
	if title == "" {
		title = TitleFromFilename(in.Path)
	}

	hash := in.Hash
	if hash == "" {
		hash = HashBytes(data)
	}
	doc := domain.Document{
		ID:   documentID(in.Path, hash),
		Text: text,
		Metadata: domain.Metadata{
			Source: in.Path,
			Hash:   hash,
			Title:  title,
			Format: strings.TrimPrefix(ext, "."),
		},
	}
	l.logger.Debug("document loaded", "source", in.Path, "format", doc.Metadata.Format, "chars", len(text))
	return doc, nil
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func documentID(path, hash string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return name + "-" + hash
}

// TitleFromFilename turns "my_report-2024.pdf" into "my report 2024".
func TitleFromFilename(path string) string {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return name
}

// PlainText passes the file through.
type PlainText struct{}

func (PlainText) Extract(_ context.Context, _ string, data []byte) (string, string, error) {
	return string(data), "", nil
}

// Markdown passes the file through and takes the first level-one heading as
// the title.
type Markdown struct{}

func (Markdown) Extract(_ context.Context, _ string, data []byte) (string, string, error) {
	text := string(data)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return text, strings.TrimSpace(line[2:]), nil
		}
	}
	return text, "", nil
}
