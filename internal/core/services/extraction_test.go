package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

const extractReply = `Q: What is the return window?
A: 30 days from delivery.

Q: Do you ship abroad?
A: Yes, to most countries.`

func TestExtractor_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call-01.md")
	require.NoError(t, os.WriteFile(path, []byte("agent: returns are accepted for 30 days"), 0o600))

	llm := &mockLLM{reply: func(string) (string, error) { return extractReply, nil }}
	ledger := &mockStatusLedger{}
	store := newTestStore(t, nil, ledger)
	x := NewExtractor(llm, nil, store, false)

	result, err := x.Handle(context.Background(), domain.Task{Kind: domain.TaskKindExtract, SourceID: path})
	require.NoError(t, err)
	assert.Equal(t, 2, result)

	all := store.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "What is the return window?", all[0].Key)
	assert.Equal(t, path, all[0].SourceID)
	assert.InDelta(t, 0.9, all[0].Metadata.Confidence, 1e-9)
	assert.Equal(t, "llm", all[0].Metadata.Extra["extraction_method"])

	st, err := store.GetStatus(path)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQAExtracted, st.Status)
	assert.Equal(t, 2, st.Metadata["record_count"])

	require.Equal(t, 1, llm.calls())
	assert.True(t, strings.Contains(llm.prompts[0], "returns are accepted"), "transcript is in the prompt")
}

func TestExtractor_InlineText(t *testing.T) {
	llm := &mockLLM{reply: func(string) (string, error) { return extractReply, nil }}
	store := newTestStore(t, nil, nil)
	x := NewExtractor(llm, nil, store, false)

	result, err := x.Handle(context.Background(), domain.Task{
		SourceID: "chat-42",
		Payload:  map[string]any{PayloadText: "customer asked about shipping"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, result)
	assert.Equal(t, []string{"chat-42"}, store.EligibleSourceIDs(domain.StatusQAExtracted))
}

func TestExtractor_NoPairsStillMarksSource(t *testing.T) {
	llm := &mockLLM{reply: func(string) (string, error) { return "nothing useful here", nil }}
	store := newTestStore(t, nil, nil)
	x := NewExtractor(llm, nil, store, false)

	result, err := x.Handle(context.Background(), domain.Task{
		SourceID: "empty",
		Payload:  map[string]any{PayloadText: "hello"},
	})

	require.NoError(t, err)
	assert.Equal(t, 0, result)
	assert.Empty(t, store.GetAll())
	st, err := store.GetStatus("empty")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQAExtracted, st.Status)
}

func TestExtractor_Errors(t *testing.T) {
	store := newTestStore(t, nil, nil)
	ok := &mockLLM{reply: func(string) (string, error) { return extractReply, nil }}

	tests := []struct {
		name  string
		x     *Extractor
		task  domain.Task
		check func(t *testing.T, err error)
	}{
		{
			name:  "no llm",
			x:     NewExtractor(nil, nil, store, false),
			task:  domain.Task{SourceID: "x"},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrLLMUnavailable) },
		},
		{
			name:  "nothing to read",
			x:     NewExtractor(ok, nil, store, false),
			task:  domain.Task{},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrInvalidInput) },
		},
		{
			name:  "inline text without source",
			x:     NewExtractor(ok, nil, store, false),
			task:  domain.Task{Payload: map[string]any{PayloadText: "hi"}},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrInvalidInput) },
		},
		{
			name: "missing file",
			x:    NewExtractor(ok, nil, store, false),
			task: domain.Task{Payload: map[string]any{PayloadPath: filepath.Join(t.TempDir(), "gone.md")}},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrInvalidInput)
			},
		},
		{
			name: "oracle failure",
			x:    NewExtractor(unavailableLLM(), nil, store, false),
			task: domain.Task{SourceID: "s", Payload: map[string]any{PayloadText: "hi"}},
			check: func(t *testing.T, err error) {
				var oe *domain.OracleError
				assert.ErrorAs(t, err, &oe)
				assert.ErrorIs(t, err, errOracleDown)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.x.Handle(context.Background(), tt.task)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
	assert.Empty(t, store.GetAll())
}

func TestExtractor_PersistFailureLeavesNoRecords(t *testing.T) {
	file := &mockKnowledgeFile{}
	file.setSaveErr(assert.AnError)
	llm := &mockLLM{reply: func(string) (string, error) { return extractReply, nil }}
	store := newTestStore(t, file, nil)
	x := NewExtractor(llm, nil, store, true)

	_, err := x.Handle(context.Background(), domain.Task{SourceID: "s", Payload: map[string]any{PayloadText: "hi"}})

	require.Error(t, err)
	assert.Empty(t, store.GetAll())
	_, err = store.GetStatus("s")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

type upperNormaliser struct{ paths []string }

func (u *upperNormaliser) Normalise(_ context.Context, path string, data []byte) (string, error) {
	u.paths = append(u.paths, path)
	return strings.ToUpper(string(data)), nil
}

func (u *upperNormaliser) Extensions() []string { return []string{".txt"} }

type lineSplitter struct{}

func (lineSplitter) Split(text string) []string { return strings.Split(text, "\n") }

func TestExtractor_NormalisesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.txt")
	require.NoError(t, os.WriteFile(path, []byte("quiet words"), 0o600))

	norm := &upperNormaliser{}
	llm := &mockLLM{reply: func(string) (string, error) { return extractReply, nil }}
	x := NewExtractor(llm, nil, newTestStore(t, nil, nil), false, WithNormaliser(norm))

	_, err := x.Handle(context.Background(), domain.Task{SourceID: path})

	require.NoError(t, err)
	assert.Equal(t, []string{path}, norm.paths)
	assert.Contains(t, llm.prompts[0], "QUIET WORDS")
}

func TestExtractor_InlineTextSkipsNormaliser(t *testing.T) {
	norm := &upperNormaliser{}
	llm := &mockLLM{reply: func(string) (string, error) { return extractReply, nil }}
	x := NewExtractor(llm, nil, newTestStore(t, nil, nil), false, WithNormaliser(norm))

	_, err := x.Handle(context.Background(), domain.Task{SourceID: "s", Payload: map[string]any{PayloadText: "keep case"}})

	require.NoError(t, err)
	assert.Empty(t, norm.paths)
	assert.Contains(t, llm.prompts[0], "keep case")
}

func TestExtractor_BlankAfterNormalising(t *testing.T) {
	path := filepath.Join(t.TempDir(), "call.txt")
	require.NoError(t, os.WriteFile(path, []byte("   "), 0o600))
	llm := &mockLLM{reply: func(string) (string, error) { return extractReply, nil }}
	x := NewExtractor(llm, nil, newTestStore(t, nil, nil), false, WithNormaliser(&upperNormaliser{}))

	_, err := x.Handle(context.Background(), domain.Task{SourceID: path})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, llm.calls())
}

func TestExtractor_SplitsAndDeduplicates(t *testing.T) {
	replies := map[string]string{
		"part one": "Q: What is the return window?\nA: 30 days.",
		"part two": "Q: what is the  RETURN window?\nA: Thirty days.\n\nQ: Do you ship abroad?\nA: Yes.",
	}
	llm := &mockLLM{reply: func(prompt string) (string, error) {
		for part, reply := range replies {
			if strings.Contains(prompt, part) {
				return reply, nil
			}
		}
		return "", nil
	}}
	store := newTestStore(t, nil, nil)
	x := NewExtractor(llm, nil, store, false, WithSplitter(lineSplitter{}))

	result, err := x.Handle(context.Background(), domain.Task{
		SourceID: "long-call",
		Payload:  map[string]any{PayloadText: "part one\npart two"},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls())
	assert.Equal(t, 2, result)
	all := store.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "30 days.", all[0].Value)
	assert.Equal(t, 0, all[0].Metadata.Extra["chunk"])
	assert.Equal(t, 1, all[1].Metadata.Extra["chunk"])

	st, err := store.GetStatus("long-call")
	require.NoError(t, err)
	assert.Equal(t, 2, st.Metadata["chunk_count"])
}
