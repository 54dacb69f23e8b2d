package loader

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrPDFToolNotFound is returned when the configured pdftotext binary is not installed.
var ErrPDFToolNotFound = errors.New("pdf extraction tool not found")

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDF extracts text with poppler's pdftotext.
type PDF struct {
	runner CommandRunner
	tool   string
}

// NewPDF returns a PDF extractor using pdftotext from PATH.
func NewPDF() *PDF {
	return &PDF{runner: execRunner{}, tool: "pdftotext"}
}

// NewPDFWithRunner returns a PDF extractor that runs tool through runner.
func NewPDFWithRunner(runner CommandRunner, tool string) *PDF {
	if tool == "" {
		tool = "pdftotext"
	}
	return &PDF{runner: runner, tool: tool}
}

// CheckAvailable reports ErrPDFToolNotFound when the tool cannot be found.
func (p *PDF) CheckAvailable() error {
	if _, err := exec.LookPath(p.tool); err != nil {
		return fmt.Errorf("%s: %w", p.tool, ErrPDFToolNotFound)
	}
	return nil
}

// InstallInstructions describes how to get pdftotext.
func InstallInstructions() string {
	return `pdftotext is required for PDF support.
  macOS:         brew install poppler
  Debian/Ubuntu: apt install poppler-utils
  Fedora:        dnf install poppler-utils`
}

func (p *PDF) Extract(ctx context.Context, path string, _ []byte) (string, string, error) {
	out, err := p.runner.Run(ctx, p.tool, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", "", fmt.Errorf("%s: %w", p.tool, ErrPDFToolNotFound)
		}
		return "", "", fmt.Errorf("%s failed: %w", p.tool, err)
	}
	text := strings.TrimSpace(string(out))
	return text, firstShortLine(text), nil
}

// firstShortLine returns the first non-empty line under 200 bytes.
func firstShortLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) >= 200 {
			continue
		}
		return line
	}
	return ""
}
