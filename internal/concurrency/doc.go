// Package concurrency provides the locking and coordination primitives used
// by the knowledge store and its background workers.
//
// Every lock acquisition here is bounded: file locks poll with a timeout,
// and TimedMutex accepts a timeout or a context. A lock that cannot be
// acquired in time yields a domain.TransientIOError wrapping
// domain.ErrLockTimeout so callers can retry.
package concurrency
