package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/core/services"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	reqs []driving.TaskRequest
	err  error
}

func (r *recordingSubmitter) Submit(req driving.TaskRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.reqs = append(r.reqs, req)
	return "task-" + filepath.Base(req.SourceID), nil
}

func (r *recordingSubmitter) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.reqs))
	for i, req := range r.reqs {
		out[i] = req.Payload[services.PayloadPath].(string)
	}
	return out
}

type fixedStatuses map[string]domain.SourceStatus

func (f fixedStatuses) GetStatus(id string) (*domain.SourceStatus, error) {
	st, ok := f[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestHandleFsEvent(t *testing.T) {
	dir := t.TempDir()
	transcript := filepath.Join(dir, "call.txt")
	writeFile(t, transcript, "Q: hi")
	hidden := filepath.Join(dir, ".call.txt")
	writeFile(t, hidden, "Q: hi")
	other := filepath.Join(dir, "audio.wav")
	writeFile(t, other, "RIFF")
	sub := filepath.Join(dir, "nested.md")
	require.NoError(t, os.Mkdir(sub, 0o700))

	w := New(dir, &recordingSubmitter{})

	tests := []struct {
		name string
		path string
		op   fsnotify.Op
		want bool
	}{
		{"create transcript", transcript, fsnotify.Create, true},
		{"write transcript", transcript, fsnotify.Write, true},
		{"chmod ignored", transcript, fsnotify.Chmod, false},
		{"remove ignored", transcript, fsnotify.Remove, false},
		{"hidden file", hidden, fsnotify.Create, false},
		{"other extension", other, fsnotify.Create, false},
		{"directory", sub, fsnotify.Create, false},
		{"vanished file", filepath.Join(dir, "gone.txt"), fsnotify.Create, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, ok := w.handleFsEvent(fsnotify.Event{Name: tt.path, Op: tt.op})
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Equal(t, tt.path, path)
			}
		})
	}
}

func TestSubmitFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "call.txt")
	writeFile(t, path, "Q: how do I export?")

	sub := &recordingSubmitter{}
	w := New(dir, sub)

	w.submitFile(path)
	w.submitFile(path)

	require.Len(t, sub.reqs, 1, "unchanged file is submitted once")
	req := sub.reqs[0]
	assert.Equal(t, domain.TaskKindExtract, req.Kind)
	assert.Equal(t, path, req.SourceID)
	assert.Equal(t, path, req.Payload[services.PayloadPath])

	// A newer modification is submitted again.
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	w.submitFile(path)
	assert.Len(t, sub.reqs, 2)
}

func TestSubmitFile_SkipsEmptyAndExtracted(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	writeFile(t, empty, "")
	done := filepath.Join(dir, "done.txt")
	writeFile(t, done, "Q: a")

	sub := &recordingSubmitter{}
	w := New(dir, sub, WithStatusReader(fixedStatuses{
		done: {SourceID: done, Status: domain.StatusQAExtracted, LastUpdated: time.Now().Add(time.Hour)},
	}))

	w.submitFile(empty)
	w.submitFile(done)

	assert.Empty(t, sub.reqs)
}

func TestSubmitFile_FailureAllowsRetry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "call.txt")
	writeFile(t, path, "Q: a")

	sub := &recordingSubmitter{err: errors.New("queue full")}
	w := New(dir, sub)
	w.submitFile(path)
	assert.Empty(t, sub.reqs)

	sub.err = nil
	w.submitFile(path)
	assert.Len(t, sub.reqs, 1)
}

func TestWithExtensions(t *testing.T) {
	w := New(t.TempDir(), &recordingSubmitter{}, WithExtensions(".log"))

	assert.True(t, w.accepts("/x/session.log"))
	assert.False(t, w.accepts("/x/session.txt"))
}

func TestRun_ScansAndWatches(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.txt")
	writeFile(t, existing, "Q: old")

	sub := &recordingSubmitter{}
	w := New(dir, sub, WithDebounce(20*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{existing}, sub.paths())
	}, 2*time.Second, 10*time.Millisecond)

	fresh := filepath.Join(dir, "fresh.md")
	writeFile(t, fresh, "Q: new")

	require.Eventually(t, func() bool {
		return len(sub.paths()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, fresh, sub.paths()[1])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
