// Package jsonl appends harvested articles to a per-source JSON lines file.
package jsonl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Evian-Zhang/udiab/internal/crawler"
)

// Sink serializes appends from concurrent workers into a single file.
type Sink struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	file   *os.File
	closed bool
}

var _ crawler.Sink = (*Sink)(nil)

// Open creates dir if needed and opens <dir>/<source>.txt for appending.
// Existing content is kept.
func Open(dir string, source crawler.Source, logger *zap.Logger) (*Sink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if source == "" {
		return nil, fmt.Errorf("source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, source.FileName())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640) // #nosec G304 -- path is built from config dir and a fixed source name
	if err != nil {
		return nil, &crawler.IOFailureError{Path: path, Err: err}
	}
	return &Sink{path: path, logger: logger, file: f}, nil
}

// Path returns the output file path.
func (s *Sink) Path() string {
	return s.path
}

// Append writes the article as one JSON line. The line is written with a
// single write call while holding the lock, so lines from concurrent callers
// never interleave.
func (s *Sink) Append(ctx context.Context, article crawler.Article) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append canceled: %w", err)
	}
	line, err := encodeLine(article)
	if err != nil {
		return fmt.Errorf("encode article %s: %w", article.URL, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &crawler.IOFailureError{Path: s.path, Err: os.ErrClosed}
	}
	n, err := s.file.Write(line)
	if err == nil && n != len(line) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(line))
	}
	if err != nil {
		s.logger.Error("output write failed", zap.String("path", s.path), zap.String("url", article.URL), zap.Error(err))
		return &crawler.IOFailureError{Path: s.path, Err: err}
	}
	return nil
}

// Close flushes and closes the file. Further appends fail with an IO failure.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	if err := errors.Join(syncErr, closeErr); err != nil {
		return &crawler.IOFailureError{Path: s.path, Err: err}
	}
	return nil
}

// encodeLine renders the article without HTML escaping so that code
// snippets and CJK text are written as-is. Encoder appends the newline.
func encodeLine(article crawler.Article) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(article); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
