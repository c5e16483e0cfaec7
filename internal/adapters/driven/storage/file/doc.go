// Package file provides the durable, human-readable knowledge file and the
// JSON status ledger. Both are rewritten wholesale through an atomic
// temp-file-and-rename under a cross-process file lock.
package file
