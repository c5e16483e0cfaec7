package domain

import (
	"path/filepath"
	"time"
)

const unknownDescription = "Unknown"

// AIProvider identifies an AI service provider for embeddings or LLM.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is OpenAI cloud API.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderAnthropic is Anthropic cloud API.
	AIProviderAnthropic AIProvider = "anthropic"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI, AIProviderAnthropic:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI || p == AIProviderAnthropic
}

// IsLocal returns true if this provider runs locally.
func (p AIProvider) IsLocal() bool {
	return p == AIProviderOllama
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	case AIProviderAnthropic:
		return "Anthropic (cloud)"
	default:
		return unknownDescription
	}
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	// Provider is the embedding service provider.
	Provider AIProvider

	// Model is the embedding model name.
	Model string

	// BaseURL is the API endpoint (for Ollama).
	BaseURL string

	// APIKey is the API key (for OpenAI).
	APIKey string
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// LLMSettings holds LLM provider configuration.
type LLMSettings struct {
	// Provider is the LLM service provider.
	Provider AIProvider

	// Model is the LLM model name.
	Model string

	// BaseURL is the API endpoint (for Ollama).
	BaseURL string

	// APIKey is the API key (for OpenAI/Anthropic).
	APIKey string
}

// IsConfigured returns true if the LLM provider is set up.
func (l LLMSettings) IsConfigured() bool {
	if !l.Provider.IsValid() {
		return false
	}
	if l.Provider.RequiresAPIKey() && l.APIKey == "" {
		return false
	}
	return true
}

// StoreSettings holds knowledge store configuration.
type StoreSettings struct {
	// DataDir holds the knowledge file, status ledger and history database.
	DataDir string

	// KnowledgeFile is the durable record file name inside DataDir.
	KnowledgeFile string

	// StatusFile is the status ledger file name inside DataDir.
	StatusFile string

	// LockTimeout bounds every lock acquisition.
	LockTimeout time.Duration

	// PersistOnAppend rewrites the durable file on every append.
	PersistOnAppend bool
}

// KnowledgePath returns the full path of the durable record file.
func (s StoreSettings) KnowledgePath() string {
	return filepath.Join(s.DataDir, s.KnowledgeFile)
}

// StatusPath returns the full path of the status ledger.
func (s StoreSettings) StatusPath() string {
	return filepath.Join(s.DataDir, s.StatusFile)
}

// OracleSettings bounds calls to the LLM and embedding services.
type OracleSettings struct {
	// RequestsPerSecond and Burst rate-limit oracle calls.
	RequestsPerSecond float64
	Burst             int

	// MaxRetries is how many times a transient oracle failure is retried.
	MaxRetries int

	// Timeout bounds a single oracle call.
	Timeout time.Duration
}

// ExtractionSettings controls how transcripts are fed to the extraction
// prompt.
type ExtractionSettings struct {
	// ChunkSize is the largest piece of transcript, in characters, sent in
	// one prompt. Longer transcripts are split.
	ChunkSize int

	// ChunkOverlap is how many characters consecutive pieces share.
	ChunkOverlap int
}

// AppSettings holds all application settings.
type AppSettings struct {
	// Embedding holds embedding provider settings.
	Embedding EmbeddingSettings

	// LLM holds LLM provider settings.
	LLM LLMSettings

	// Store holds knowledge store settings.
	Store StoreSettings

	// Scheduler holds compaction trigger settings.
	Scheduler SchedulerConfig

	// Compaction holds merge engine settings.
	Compaction CompactionConfig

	// Tasks holds task processor settings.
	Tasks ProcessorConfig

	// Oracle holds oracle call limits.
	Oracle OracleSettings

	// Extraction holds transcript splitting settings.
	Extraction ExtractionSettings
}

// DefaultAppSettings returns settings with sensible defaults.
// AI features (Embedding, LLM) are left unconfigured by default;
// compaction then relies on the similarity heuristic.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Embedding: EmbeddingSettings{},
		LLM:       LLMSettings{},
		Store: StoreSettings{
			DataDir:         "data",
			KnowledgeFile:   "knowledge.md",
			StatusFile:      "status.json",
			LockTimeout:     15 * time.Second,
			PersistOnAppend: true,
		},
		Scheduler:  DefaultSchedulerConfig(),
		Compaction: DefaultCompactionConfig(),
		Tasks:      DefaultProcessorConfig(),
		Oracle: OracleSettings{
			RequestsPerSecond: 2,
			Burst:             4,
			MaxRetries:        2,
			Timeout:           2 * time.Minute,
		},
		Extraction: ExtractionSettings{
			ChunkSize:    12000,
			ChunkOverlap: 400,
		},
	}
}

// AllEmbeddingProviders returns providers that support embeddings.
func AllEmbeddingProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
	}
}

// AllLLMProviders returns providers that support LLM operations.
func AllLLMProviders() []AIProvider {
	return []AIProvider{
		AIProviderOllama,
		AIProviderOpenAI,
		AIProviderAnthropic,
	}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "nomic-embed-text",
		AIProviderOpenAI: "text-embedding-3-small",
	}
}

// DefaultLLMModels returns default models for each LLM provider.
func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:    "llama3.2",
		AIProviderOpenAI:    "gpt-4o-mini",
		AIProviderAnthropic: "claude-3-5-sonnet-latest",
	}
}
