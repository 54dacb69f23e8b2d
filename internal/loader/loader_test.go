package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// buildDocx assembles a minimal OOXML archive.
func buildDocx(t *testing.T, paragraphs []string, title string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, p := range paragraphs {
		body.WriteString(`<w:p><w:r><w:t>` + p + `</w:t></w:r></w:p>`)
	}
	body.WriteString(`</w:body></w:document>`)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write(body.Bytes())
	require.NoError(t, err)

	if title != "" {
		w, err = zw.Create("docProps/core.xml")
		require.NoError(t, err)
		_, err = w.Write([]byte(`<cp:coreProperties xmlns:cp="x" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>` + title + `</dc:title></cp:coreProperties>`))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestLoadFile_PlainText(t *testing.T) {
	data := []byte("The sky is blue.\nGrass is green.")
	path := writeFile(t, "colour_notes.txt", data)

	doc, err := New().LoadFile(context.Background(), Input{Path: path})
	require.NoError(t, err)
	assert.Equal(t, string(data), doc.Text)
	assert.Equal(t, path, doc.Metadata.Source)
	assert.Equal(t, HashBytes(data), doc.Metadata.Hash)
	assert.Equal(t, "colour notes", doc.Metadata.Title)
	assert.Equal(t, "txt", doc.Metadata.Format)
	assert.NotEmpty(t, doc.ID)
}

func TestLoadFile_MarkdownTitle(t *testing.T) {
	path := writeFile(t, "guide.MD", []byte("intro\n# Setup Guide\nsteps"))
	doc, err := New().LoadFile(context.Background(), Input{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "Setup Guide", doc.Metadata.Title)
	assert.Equal(t, "md", doc.Metadata.Format)
}

func TestLoadFile_CallerHashWins(t *testing.T) {
	path := writeFile(t, "a.txt", []byte("content"))
	doc, err := New().LoadFile(context.Background(), Input{Path: path, Hash: "upload-hash"})
	require.NoError(t, err)
	assert.Equal(t, "upload-hash", doc.Metadata.Hash)
}

func TestLoadFile_SameBytesSameHash(t *testing.T) {
	a := writeFile(t, "a.txt", []byte("identical"))
	b := writeFile(t, "renamed.txt", []byte("identical"))
	l := New()
	da, err := l.LoadFile(context.Background(), Input{Path: a})
	require.NoError(t, err)
	db, err := l.LoadFile(context.Background(), Input{Path: b})
	require.NoError(t, err)
	assert.Equal(t, da.Metadata.Hash, db.Metadata.Hash)
}

func TestLoadFile_UnsupportedFormat(t *testing.T) {
	path := writeFile(t, "image.png", []byte{0x89, 0x50})
	_, err := New().LoadFile(context.Background(), Input{Path: path})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
	assert.False(t, New().Supports(path))
}

func TestLoadFile_Docx(t *testing.T) {
	path := writeFile(t, "quarterly_report.docx", buildDocx(t, []string{"First paragraph.", "Second paragraph."}, "Q3 Report"))
	doc, err := New().LoadFile(context.Background(), Input{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\nSecond paragraph.", doc.Text)
	assert.Equal(t, "Q3 Report", doc.Metadata.Title)
	assert.Equal(t, "docx", doc.Metadata.Format)
}

func TestLoadFile_DocxTitleFallsBackToFilename(t *testing.T) {
	path := writeFile(t, "meeting-notes.docx", buildDocx(t, []string{"Body"}, ""))
	doc, err := New().LoadFile(context.Background(), Input{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "meeting notes", doc.Metadata.Title)
}

func TestLoadFile_CorruptDocx(t *testing.T) {
	path := writeFile(t, "broken.docx", []byte("not a zip"))
	_, err := New().LoadFile(context.Background(), Input{Path: path})
	assert.ErrorIs(t, err, domain.ErrParse)
}

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	output []byte
	err    error
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.args = append([]string{name}, args...)
	return m.output, m.err
}

func TestLoadFile_PDF(t *testing.T) {
	runner := &mockRunner{output: []byte("\n  PDF Title\n\nThis is the content of the PDF.\n")}
	path := writeFile(t, "doc.pdf", []byte("%PDF-1.4 fake"))
	l := New(WithExtractor(".pdf", NewPDFWithRunner(runner, "")))

	doc, err := l.LoadFile(context.Background(), Input{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "PDF Title", doc.Metadata.Title)
	assert.Contains(t, doc.Text, "This is the content of the PDF.")
	assert.Equal(t, []string{"pdftotext", "-layout", "-enc", "UTF-8", path, "-"}, runner.args)
}

func TestLoadFile_PDFRunnerError(t *testing.T) {
	runner := &mockRunner{err: errors.New("pdftotext crashed")}
	path := writeFile(t, "doc.pdf", []byte("%PDF-1.4 fake"))
	l := New(WithExtractor(".pdf", NewPDFWithRunner(runner, "")))

	_, err := l.LoadFile(context.Background(), Input{Path: path})
	require.ErrorIs(t, err, domain.ErrParse)
	assert.Contains(t, err.Error(), "pdftotext failed")
}

func TestLoadFile_PDFToolMissing(t *testing.T) {
	path := writeFile(t, "doc.pdf", []byte("%PDF-1.4 fake"))
	l := New(WithPDFTool("docrag-missing-pdftotext"))

	_, err := l.LoadFile(context.Background(), Input{Path: path})
	require.ErrorIs(t, err, domain.ErrParse)
	assert.ErrorIs(t, err, ErrPDFToolNotFound)
	assert.Contains(t, err.Error(), "docrag-missing-pdftotext")

	err = l.CheckTools()
	assert.ErrorIs(t, err, ErrPDFToolNotFound)
	assert.Contains(t, err.Error(), ".pdf")
}

func TestCheckTools_InProcessOnly(t *testing.T) {
	l := New(WithExtractor(".pdf", Docx{}))
	assert.NoError(t, l.CheckTools())
}

func TestFirstShortLine(t *testing.T) {
	tests := []struct {
		name, content, want string
	}{
		{"first line", "Document Title\n\nbody", "Document Title"},
		{"skip empty", "\n\n\nActual Title\nContent", "Actual Title"},
		{"skip long", string(bytes.Repeat([]byte("x"), 250)) + "\nShort Title", "Short Title"},
		{"none", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, firstShortLine(tc.content))
		})
	}
}

func TestInstallInstructions(t *testing.T) {
	assert.Contains(t, InstallInstructions(), "brew install poppler")
	assert.Contains(t, InstallInstructions(), "apt install poppler-utils")
}

func TestLoad_StopsAtFirstFailure(t *testing.T) {
	good := writeFile(t, "good.txt", []byte("ok"))
	bad := writeFile(t, "bad.xyz", []byte("?"))
	_, err := New().Load(context.Background(), []Input{{Path: good}, {Path: bad}})
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	docs, err := New().Load(context.Background(), []Input{{Path: good}})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestExtensions(t *testing.T) {
	assert.Equal(t, []string{".docx", ".markdown", ".md", ".pdf", ".txt"}, New().Extensions())
}
