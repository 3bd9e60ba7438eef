// Package ocr recognizes text in uploaded images by shelling out to the
// tesseract binary. Output is best effort: recognition quality may vary
// across engine versions and that is acceptable.
package ocr

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

type Config struct {
	Tesseract string // binary name or absolute path; if empty -> "tesseract"
	Languages string // tesseract language set, e.g. "eng+spa+deu"
}

type Extractor struct {
	cfg    Config
	runner Runner
}

func New(cfg Config) *Extractor {
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Languages == "" {
		cfg.Languages = "eng+spa+deu"
	}
	return &Extractor{cfg: cfg, runner: execRunner{}}
}

// NewWithRunner is for tests.
func NewWithRunner(cfg Config, runner Runner) *Extractor {
	e := New(cfg)
	e.runner = runner
	return e
}

func (e *Extractor) Extract(ctx context.Context, r io.Reader) (string, error) {
	// tesseract wants a file path, not a stream.
	tmp, err := os.CreateTemp("", "docpipe-ocr-*")
	if err != nil {
		return "", fmt.Errorf("create temp image: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("spool image to disk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("flush temp image: %w", err)
	}

	stdout, stderr, err := e.runner.Run(ctx, e.cfg.Tesseract,
		tmp.Name(), "stdout", "-l", e.cfg.Languages)
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(string(stderr), 512))
	}

	text := strings.TrimSpace(string(stdout))
	if text == "" {
		return "", fmt.Errorf("tesseract recognized no text")
	}
	return text, nil
}
