// Package domain defines the core business entities for kbase.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Record: An immutable key/value knowledge entry with lineage
//   - SourceStatus: A per-source processing ledger entry
//   - Snapshot: An offset-stamped copy of the active buffer
//   - Task: A unit of work for the asynchronous task processor
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
