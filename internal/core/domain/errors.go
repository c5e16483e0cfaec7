package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown provider or task kind.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrSnapshotPending indicates a snapshot was requested while another
	// one has not yet been switched or aborted.
	ErrSnapshotPending = errors.New("snapshot already pending")

	// ErrNoSnapshot indicates a buffer switch without a pending snapshot.
	ErrNoSnapshot = errors.New("no pending snapshot")

	// ErrLockTimeout indicates a lock could not be acquired in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrCompactionInProgress indicates a compaction run is already active.
	ErrCompactionInProgress = errors.New("compaction in progress")

	// ErrProcessorStopped indicates the task processor no longer accepts
	// or dispatches work.
	ErrProcessorStopped = errors.New("task processor stopped")

	// ErrLLMUnavailable indicates the LLM service is not configured.
	// Oracle grouping and merging fall back to heuristics without it.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	// The clustering prefilter degrades to sequential chunking without it.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrMalformedResponse indicates an oracle reply could not be parsed.
	ErrMalformedResponse = errors.New("malformed oracle response")
)

// TransientIOError is a retryable storage failure such as a lock timeout
// or a failed temp-file write.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return fmt.Sprintf("%s: transient I/O error: %v", e.Op, e.Err)
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// OracleError wraps a failed LLM or embedding call. Callers recover from it
// with a fallback and never surface it to writers.
type OracleError struct {
	Op  string
	Err error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("%s: oracle error: %v", e.Op, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// IntegrityError reports an operation against inconsistent buffer state.
// The operation is aborted and state is left unchanged.
type IntegrityError struct {
	Op     string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: integrity violation: %s", e.Op, e.Reason)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientIOError
	return errors.As(err, &t) || errors.Is(err, ErrLockTimeout)
}

// IsOracle reports whether err originated from an oracle call.
func IsOracle(err error) bool {
	var o *OracleError
	return errors.As(err, &o)
}

// IsIntegrity reports whether err is an integrity violation.
func IsIntegrity(err error) bool {
	var i *IntegrityError
	return errors.As(err, &i)
}
