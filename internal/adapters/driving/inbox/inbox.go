// Package inbox watches a directory for cleaned transcripts and submits an
// extraction task for each new or changed file.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/core/services"
	"github.com/custodia-labs/kbase/internal/logger"
)

// DefaultDebounce coalesces the burst of write events an editor or copy
// produces for one file.
const DefaultDebounce = 500 * time.Millisecond

// DefaultExtensions are the transcript file types picked up.
var DefaultExtensions = []string{".txt", ".md"}

// Submitter queues tasks.
type Submitter interface {
	Submit(req driving.TaskRequest) (string, error)
}

// StatusReader reports a source's pipeline status.
type StatusReader interface {
	GetStatus(sourceID string) (*domain.SourceStatus, error)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the per-file quiet period before submitting.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithExtensions replaces the accepted file extensions.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) { w.exts = exts }
}

// WithStatusReader skips files whose source has already been extracted.
func WithStatusReader(r StatusReader) Option {
	return func(w *Watcher) { w.statuses = r }
}

// Watcher submits extraction tasks for transcripts dropped into a directory.
type Watcher struct {
	dir      string
	submit   Submitter
	statuses StatusReader
	debounce time.Duration
	exts     []string

	mu        sync.Mutex
	timers    map[string]*time.Timer
	submitted map[string]time.Time // path -> mod time last submitted
	wg        sync.WaitGroup
}

// New creates a watcher for dir.
func New(dir string, submit Submitter, opts ...Option) *Watcher {
	w := &Watcher{
		dir:       dir,
		submit:    submit,
		debounce:  DefaultDebounce,
		exts:      DefaultExtensions,
		timers:    make(map[string]*time.Timer),
		submitted: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run submits every transcript already in the directory, then watches for
// new ones until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("inbox: create %s: %w", w.dir, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}

	if err := w.scan(); err != nil {
		logger.Warn("inbox: initial scan: %v", err)
	}
	logger.Info("inbox: watching %s", w.dir)

	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if path, ok := w.handleFsEvent(event); ok {
				w.schedule(path)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn("inbox: watcher error: %v", err)
		}
	}
}

// scan submits transcripts already present.
func (w *Watcher) scan() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if w.accepts(path) {
			w.submitFile(path)
		}
	}
	return nil
}

// handleFsEvent returns the transcript path an event refers to, if any.
// Only creates and writes of accepted regular files count.
func (w *Watcher) handleFsEvent(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	if !w.accepts(event.Name) {
		return "", false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return event.Name, true
}

func (w *Watcher) accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	return slices.Contains(w.exts, strings.ToLower(filepath.Ext(name)))
}

// schedule submits path once it has been quiet for the debounce period.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[path] == t {
			delete(w.timers, path)
		}
		w.mu.Unlock()
		w.submitFile(path)
	})
	w.timers[path] = t
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	for path, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// submitFile queues an extraction unless this version of the file was
// already submitted or its source is past extraction.
func (w *Watcher) submitFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Size() == 0 {
		return
	}

	w.mu.Lock()
	if last, ok := w.submitted[path]; ok && !info.ModTime().After(last) {
		w.mu.Unlock()
		return
	}
	w.submitted[path] = info.ModTime()
	w.mu.Unlock()

	if w.alreadyExtracted(path, info.ModTime()) {
		logger.Debug("inbox: %s already extracted, skipping", path)
		return
	}

	id, err := w.submit.Submit(driving.TaskRequest{
		Kind:     domain.TaskKindExtract,
		SourceID: path,
		Payload:  map[string]any{services.PayloadPath: path},
	})
	if err != nil {
		if !errors.Is(err, domain.ErrProcessorStopped) {
			logger.Error("inbox: submit %s: %v", path, err)
		}
		w.mu.Lock()
		delete(w.submitted, path)
		w.mu.Unlock()
		return
	}
	logger.Info("inbox: queued %s as task %s", filepath.Base(path), id)
}

// alreadyExtracted reports whether the ledger shows path extracted after
// it was last modified.
func (w *Watcher) alreadyExtracted(path string, modTime time.Time) bool {
	if w.statuses == nil {
		return false
	}
	st, err := w.statuses.GetStatus(path)
	if err != nil || st == nil {
		return false
	}
	switch st.Status {
	case domain.StatusQAExtracted, domain.StatusCompacted:
		return !st.LastUpdated.Before(modTime)
	default:
		return false
	}
}
