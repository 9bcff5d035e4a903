// Package loader reads the directive text into numbered pages.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"greenrag/internal/domain"
	"greenrag/internal/logger"
)

// pageBreak separates pages in pdftotext output.
const pageBreak = "\f"

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

var _ domain.Loader = (*FileLoader)(nil)

// FileLoader loads .txt, .md and .pdf files.
type FileLoader struct {
	runner CommandRunner
}

func New() *FileLoader { return &FileLoader{runner: execRunner{}} }

// NewWithRunner uses runner for PDF extraction.
func NewWithRunner(runner CommandRunner) *FileLoader { return &FileLoader{runner: runner} }

// InstallInstructions explains how to get pdftotext.
func InstallInstructions() string {
	return `PDF support requires pdftotext (poppler):
  macOS:  brew install poppler
  Debian: apt install poppler-utils`
}

// Load returns one SourceDocument per page, numbered from 1.
func (l *FileLoader) Load(ctx context.Context, path string) ([]domain.SourceDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: source document %s does not exist", domain.ErrConfiguration, path)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: source %s is a directory", domain.ErrConfiguration, path)
	}

	var text string
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		text = string(data)
	case ".pdf":
		out, err := l.runner.Run(ctx, "pdftotext", "-layout", path, "-")
		if err != nil {
			if errors.Is(err, exec.ErrNotFound) {
				return nil, fmt.Errorf("%w: pdftotext not found\n%s", domain.ErrConfiguration, InstallInstructions())
			}
			return nil, fmt.Errorf("extracting text from %s: %w", path, err)
		}
		text = string(out)
	default:
		return nil, fmt.Errorf("%w: unsupported source type %q", domain.ErrConfiguration, ext)
	}

	docs := SplitPages(text)
	logger.Info("Loaded %s: %d pages", filepath.Base(path), len(docs))
	return docs, nil
}

// SplitPages splits text on form feeds. A trailing empty page left by a
// final form feed is dropped.
func SplitPages(text string) []domain.SourceDocument {
	parts := strings.Split(text, pageBreak)
	if n := len(parts); n > 1 && strings.TrimSpace(parts[n-1]) == "" {
		parts = parts[:n-1]
	}
	docs := make([]domain.SourceDocument, len(parts))
	for i, p := range parts {
		docs[i] = domain.SourceDocument{Text: p, Page: i + 1}
	}
	return docs
}
