// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - KnowledgeFile: Durable record file, rewritten wholesale
//   - StatusLedger: Durable per-source processing status
//   - HistoryStore: Compaction run and failed task history
//   - ConfigStore: Application configuration
//   - PromptStore: Oracle prompt templates
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - LLMService: Grouping, merge and extraction oracle. Without it,
//     compaction uses the similarity heuristic and keeps the first record
//     of every group.
//   - EmbeddingService: Vectors for the clustering prefilter. Without it,
//     large batches are chunked sequentially.
//   - Tokenizer: Token budgeting for embedding batches. Without it, a
//     character-based estimate is used.
//   - Metrics: Operational counters.
//   - TranscriptNormaliser: Format-aware conversion of transcript files.
//     Without it, files are read as-is.
//   - TextSplitter: Splits long transcripts across extraction prompts.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
