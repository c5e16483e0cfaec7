package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/kbase/internal/concurrency"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure KnowledgeFile implements the interface.
var _ driven.KnowledgeFile = (*KnowledgeFile)(nil)

// KnowledgeFile stores records as a markdown document.
type KnowledgeFile struct {
	path   string
	writer *concurrency.AtomicWriter
	now    func() time.Time
	newID  func() string
}

// Option configures a KnowledgeFile.
type Option func(*KnowledgeFile)

// WithClock overrides the timestamp written in the header.
func WithClock(now func() time.Time) Option {
	return func(f *KnowledgeFile) { f.now = now }
}

// WithIDGenerator overrides the id assigned to legacy blocks.
func WithIDGenerator(newID func() string) Option {
	return func(f *KnowledgeFile) { f.newID = newID }
}

// NewKnowledgeFile creates a knowledge file at path.
func NewKnowledgeFile(path string, writer *concurrency.AtomicWriter, opts ...Option) *KnowledgeFile {
	f := &KnowledgeFile{
		path:   path,
		writer: writer,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Load parses the file. A missing file yields no records.
func (f *KnowledgeFile) Load(ctx context.Context) ([]domain.Record, error) {
	data, err := f.writer.ReadFile(ctx, f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	records, err := decode(data, f.newID, f.now())
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path, err)
	}
	return records, nil
}

// Save replaces the file with records.
func (f *KnowledgeFile) Save(ctx context.Context, records []domain.Record) error {
	data, err := encode(records, f.now())
	if err != nil {
		return err
	}
	return f.writer.WriteFile(ctx, f.path, data)
}

// Path returns the file location.
func (f *KnowledgeFile) Path() string {
	return f.path
}
