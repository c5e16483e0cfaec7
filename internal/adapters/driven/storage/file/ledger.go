package file

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/custodia-labs/kbase/internal/concurrency"
	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// Ensure StatusLedger implements the interface.
var _ driven.StatusLedger = (*StatusLedger)(nil)

// ledgerDocument is the on-disk layout of the status ledger.
type ledgerDocument struct {
	LastUpdated time.Time             `json:"last_updated"`
	Sources     []domain.SourceStatus `json:"sources"`
}

// StatusLedger stores source statuses as a JSON document.
type StatusLedger struct {
	path   string
	writer *concurrency.AtomicWriter
	now    func() time.Time
}

// NewStatusLedger creates a ledger at path.
func NewStatusLedger(path string, writer *concurrency.AtomicWriter) *StatusLedger {
	return &StatusLedger{path: path, writer: writer, now: time.Now}
}

// Load reads the ledger. A missing file yields no entries.
func (l *StatusLedger) Load(ctx context.Context) ([]domain.SourceStatus, error) {
	var doc ledgerDocument
	err := l.writer.ReadJSON(ctx, l.path, &doc)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.Sources, nil
}

// Save replaces the ledger with entries.
func (l *StatusLedger) Save(ctx context.Context, entries []domain.SourceStatus) error {
	if entries == nil {
		entries = []domain.SourceStatus{}
	}
	return l.writer.WriteJSON(ctx, l.path, ledgerDocument{
		LastUpdated: l.now().UTC(),
		Sources:     entries,
	})
}

// Path returns the file location.
func (l *StatusLedger) Path() string {
	return l.path
}
