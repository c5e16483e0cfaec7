package services

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/kbase/internal/core/domain"
	"github.com/custodia-labs/kbase/internal/core/ports/driven"
	"github.com/custodia-labs/kbase/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// setting binds one config key to a field of domain.AppSettings.
type setting struct {
	key    string
	secret bool
	// read copies the stored value into a, if the key is present.
	read func(store driven.ConfigStore, a *domain.AppSettings)
	// value returns the field's value in its stored form.
	value func(a *domain.AppSettings) any
	// parse converts command-line text into the stored form.
	parse func(text string) (any, error)
}

func stringSetting(key string, field func(*domain.AppSettings) *string) setting {
	return setting{
		key: key,
		read: func(store driven.ConfigStore, a *domain.AppSettings) {
			if v := store.GetString(key); v != "" {
				*field(a) = v
			}
		},
		value: func(a *domain.AppSettings) any { return *field(a) },
		parse: func(text string) (any, error) { return text, nil },
	}
}

func secretSetting(key string, field func(*domain.AppSettings) *string) setting {
	s := stringSetting(key, field)
	s.secret = true
	return s
}

func providerSetting(key string, field func(*domain.AppSettings) *domain.AIProvider) setting {
	return setting{
		key: key,
		read: func(store driven.ConfigStore, a *domain.AppSettings) {
			if p := domain.AIProvider(store.GetString(key)); p.IsValid() {
				*field(a) = p
			}
		},
		value: func(a *domain.AppSettings) any { return field(a).String() },
		parse: func(text string) (any, error) {
			if text != "" && !domain.AIProvider(text).IsValid() {
				return nil, fmt.Errorf("invalid provider: %s", text)
			}
			return text, nil
		},
	}
}

func intSetting(key string, field func(*domain.AppSettings) *int) setting {
	return setting{
		key: key,
		read: func(store driven.ConfigStore, a *domain.AppSettings) {
			if _, ok := store.Get(key); ok {
				*field(a) = store.GetInt(key)
			}
		},
		value: func(a *domain.AppSettings) any { return *field(a) },
		parse: func(text string) (any, error) {
			n, err := strconv.Atoi(text)
			if err != nil {
				return nil, fmt.Errorf("%s: expected an integer: %w", key, err)
			}
			if n < 0 {
				return nil, fmt.Errorf("%s: must not be negative", key)
			}
			return n, nil
		},
	}
}

func floatSetting(key string, field func(*domain.AppSettings) *float64) setting {
	return setting{
		key: key,
		read: func(store driven.ConfigStore, a *domain.AppSettings) {
			if _, ok := store.Get(key); ok {
				*field(a) = store.GetFloat(key)
			}
		},
		value: func(a *domain.AppSettings) any { return *field(a) },
		parse: func(text string) (any, error) {
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: expected a number: %w", key, err)
			}
			if f < 0 {
				return nil, fmt.Errorf("%s: must not be negative", key)
			}
			return f, nil
		},
	}
}

func boolSetting(key string, field func(*domain.AppSettings) *bool) setting {
	return setting{
		key: key,
		read: func(store driven.ConfigStore, a *domain.AppSettings) {
			if _, ok := store.Get(key); ok {
				*field(a) = store.GetBool(key)
			}
		},
		value: func(a *domain.AppSettings) any { return *field(a) },
		parse: func(text string) (any, error) {
			b, err := strconv.ParseBool(text)
			if err != nil {
				return nil, fmt.Errorf("%s: expected true or false: %w", key, err)
			}
			return b, nil
		},
	}
}

// durationSetting stores a duration as an integer count of unit.
func durationSetting(key string, unit time.Duration, field func(*domain.AppSettings) *time.Duration) setting {
	s := intSetting(key, nil)
	s.read = func(store driven.ConfigStore, a *domain.AppSettings) {
		if _, ok := store.Get(key); ok {
			*field(a) = time.Duration(store.GetInt(key)) * unit
		}
	}
	s.value = func(a *domain.AppSettings) any { return int(*field(a) / unit) }
	return s
}

// settings lists every recognised key in display order.
//
//nolint:gosec // G101: api_key entries are config key names, not credentials.
var settings = []setting{
	providerSetting("llm.provider", func(a *domain.AppSettings) *domain.AIProvider { return &a.LLM.Provider }),
	stringSetting("llm.model", func(a *domain.AppSettings) *string { return &a.LLM.Model }),
	stringSetting("llm.base_url", func(a *domain.AppSettings) *string { return &a.LLM.BaseURL }),
	secretSetting("llm.api_key", func(a *domain.AppSettings) *string { return &a.LLM.APIKey }),

	providerSetting("embedding.provider", func(a *domain.AppSettings) *domain.AIProvider { return &a.Embedding.Provider }),
	stringSetting("embedding.model", func(a *domain.AppSettings) *string { return &a.Embedding.Model }),
	stringSetting("embedding.base_url", func(a *domain.AppSettings) *string { return &a.Embedding.BaseURL }),
	secretSetting("embedding.api_key", func(a *domain.AppSettings) *string { return &a.Embedding.APIKey }),

	stringSetting("store.data_dir", func(a *domain.AppSettings) *string { return &a.Store.DataDir }),
	stringSetting("store.knowledge_file", func(a *domain.AppSettings) *string { return &a.Store.KnowledgeFile }),
	stringSetting("store.status_file", func(a *domain.AppSettings) *string { return &a.Store.StatusFile }),
	durationSetting("store.lock_timeout_seconds", time.Second,
		func(a *domain.AppSettings) *time.Duration { return &a.Store.LockTimeout }),
	boolSetting("store.persist_on_append", func(a *domain.AppSettings) *bool { return &a.Store.PersistOnAppend }),

	boolSetting("compaction.enabled", func(a *domain.AppSettings) *bool { return &a.Scheduler.Enabled }),
	durationSetting("compaction.interval_seconds", time.Second,
		func(a *domain.AppSettings) *time.Duration { return &a.Scheduler.Interval }),
	intSetting("compaction.min_total_records", func(a *domain.AppSettings) *int { return &a.Scheduler.MinTotalRecords }),
	intSetting("compaction.min_active_records", func(a *domain.AppSettings) *int { return &a.Scheduler.MinActiveRecords }),
	intSetting("compaction.max_active_records", func(a *domain.AppSettings) *int { return &a.Scheduler.MaxActiveRecords }),
	durationSetting("compaction.max_interval_minutes", time.Minute,
		func(a *domain.AppSettings) *time.Duration { return &a.Scheduler.MaxInterval }),
	floatSetting("compaction.compression_ratio_threshold",
		func(a *domain.AppSettings) *float64 { return &a.Scheduler.CompressionRatioThreshold }),
	floatSetting("compaction.similarity_threshold",
		func(a *domain.AppSettings) *float64 { return &a.Compaction.SimilarityThreshold }),
	intSetting("compaction.full_analysis_limit", func(a *domain.AppSettings) *int { return &a.Compaction.FullAnalysisLimit }),
	intSetting("compaction.target_batch_size", func(a *domain.AppSettings) *int { return &a.Compaction.TargetBatchSize }),
	intSetting("compaction.min_cluster_size", func(a *domain.AppSettings) *int { return &a.Compaction.MinClusterSize }),
	intSetting("compaction.min_samples", func(a *domain.AppSettings) *int { return &a.Compaction.MinSamples }),
	intSetting("compaction.merge_workers", func(a *domain.AppSettings) *int { return &a.Compaction.MergeWorkers }),
	intSetting("compaction.embedding_workers", func(a *domain.AppSettings) *int { return &a.Compaction.EmbeddingWorkers }),

	intSetting("tasks.workers", func(a *domain.AppSettings) *int { return &a.Tasks.Workers }),
	intSetting("tasks.max_retries", func(a *domain.AppSettings) *int { return &a.Tasks.MaxRetries }),
	durationSetting("tasks.backoff_initial_ms", time.Millisecond,
		func(a *domain.AppSettings) *time.Duration { return &a.Tasks.BackoffInitial }),
	durationSetting("tasks.backoff_max_seconds", time.Second,
		func(a *domain.AppSettings) *time.Duration { return &a.Tasks.BackoffMax }),
	durationSetting("tasks.job_timeout_seconds", time.Second,
		func(a *domain.AppSettings) *time.Duration { return &a.Tasks.JobTimeout }),

	floatSetting("oracle.requests_per_second", func(a *domain.AppSettings) *float64 { return &a.Oracle.RequestsPerSecond }),
	intSetting("oracle.burst", func(a *domain.AppSettings) *int { return &a.Oracle.Burst }),
	intSetting("oracle.max_retries", func(a *domain.AppSettings) *int { return &a.Oracle.MaxRetries }),
	durationSetting("oracle.timeout_seconds", time.Second,
		func(a *domain.AppSettings) *time.Duration { return &a.Oracle.Timeout }),

	intSetting("extract.chunk_size", func(a *domain.AppSettings) *int { return &a.Extraction.ChunkSize }),
	intSetting("extract.chunk_overlap", func(a *domain.AppSettings) *int { return &a.Extraction.ChunkOverlap }),
}

func lookupSetting(key string) (setting, bool) {
	i := slices.IndexFunc(settings, func(s setting) bool { return s.key == key })
	if i < 0 {
		return setting{}, false
	}
	return settings[i], true
}

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
	aiValidator driven.AIConfigValidator
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore, aiValidator driven.AIConfigValidator) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		aiValidator: aiValidator,
	}
}

// Get retrieves current application settings. Keys missing from the
// config file keep their defaults.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	a := domain.DefaultAppSettings()
	for _, st := range settings {
		st.read(s.configStore, &a)
	}
	return &a, nil
}

// Save persists application settings. Empty API keys are not written so an
// existing key is never blanked by accident.
func (s *SettingsService) Save(a *domain.AppSettings) error {
	for _, st := range settings {
		v := st.value(a)
		if st.secret && v == "" {
			continue
		}
		if err := s.configStore.Set(st.key, v); err != nil {
			return fmt.Errorf("save %s: %w", st.key, err)
		}
	}
	return nil
}

// Set updates a single setting by key.
func (s *SettingsService) Set(key, value string) error {
	st, ok := lookupSetting(strings.TrimSpace(key))
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	v, err := st.parse(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	if err := s.configStore.Set(st.key, v); err != nil {
		return fmt.Errorf("save %s: %w", st.key, err)
	}
	return nil
}

// Keys returns every recognised setting key.
func (s *SettingsService) Keys() []string {
	keys := make([]string, len(settings))
	for i, st := range settings {
		keys[i] = st.key
	}
	return keys
}

// Values returns every setting in stored form, with API keys masked.
func (s *SettingsService) Values() (map[string]any, error) {
	a, err := s.Get()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(settings))
	for _, st := range settings {
		v := st.value(a)
		if st.secret && v != "" {
			v = "********"
		}
		out[st.key] = v
	}
	return out, nil
}

// SetEmbeddingProvider configures the embedding provider.
func (s *SettingsService) SetEmbeddingProvider(provider domain.AIProvider, model, apiKey string) error {
	if !provider.IsValid() {
		return fmt.Errorf("invalid embedding provider: %s", provider)
	}
	if !slices.Contains(domain.AllEmbeddingProviders(), provider) {
		return fmt.Errorf("provider %s does not support embeddings", provider)
	}
	if provider.RequiresAPIKey() && apiKey == "" {
		return fmt.Errorf("API key required for %s", provider)
	}

	a, err := s.Get()
	if err != nil {
		return err
	}
	a.Embedding.Provider = provider
	a.Embedding.Model = modelOrDefault(model, domain.DefaultEmbeddingModels()[provider])
	a.Embedding.BaseURL = baseURLFor(provider, a.Embedding.BaseURL)
	a.Embedding.APIKey = apiKey
	return s.Save(a)
}

// SetLLMProvider configures the LLM provider.
func (s *SettingsService) SetLLMProvider(provider domain.AIProvider, model, apiKey string) error {
	if !provider.IsValid() {
		return fmt.Errorf("invalid LLM provider: %s", provider)
	}
	if provider.RequiresAPIKey() && apiKey == "" {
		return fmt.Errorf("API key required for %s", provider)
	}

	a, err := s.Get()
	if err != nil {
		return err
	}
	a.LLM.Provider = provider
	a.LLM.Model = modelOrDefault(model, domain.DefaultLLMModels()[provider])
	a.LLM.BaseURL = baseURLFor(provider, a.LLM.BaseURL)
	a.LLM.APIKey = apiKey
	return s.Save(a)
}

func modelOrDefault(model, def string) string {
	if model != "" {
		return model
	}
	return def
}

// baseURLFor keeps a local provider's URL and clears it for cloud providers.
func baseURLFor(provider domain.AIProvider, current string) string {
	if !provider.IsLocal() {
		return ""
	}
	if current == "" {
		return "http://localhost:11434"
	}
	return current
}

// Validate checks that current settings are usable.
func (s *SettingsService) Validate() error {
	a, err := s.Get()
	if err != nil {
		return err
	}

	var errs []error
	if a.LLM.Provider != "" && !a.LLM.IsConfigured() {
		errs = append(errs, fmt.Errorf("llm provider %s is not fully configured", a.LLM.Provider))
	}
	if a.Embedding.Provider != "" && !a.Embedding.IsConfigured() {
		errs = append(errs, fmt.Errorf("embedding provider %s is not fully configured", a.Embedding.Provider))
	}
	if a.Store.KnowledgeFile == "" || a.Store.StatusFile == "" {
		errs = append(errs, errors.New("store file names must not be empty"))
	}
	if t := a.Compaction.SimilarityThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("compaction.similarity_threshold must be in (0,1], got %v", t))
	}
	if t := a.Scheduler.CompressionRatioThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("compaction.compression_ratio_threshold must be in [0,1], got %v", t))
	}
	if a.Scheduler.MaxActiveRecords < a.Scheduler.MinActiveRecords {
		errs = append(errs, errors.New("compaction.max_active_records is below compaction.min_active_records"))
	}
	if a.Compaction.MinClusterSize < 2 {
		errs = append(errs, errors.New("compaction.min_cluster_size must be at least 2"))
	}
	if a.Tasks.Workers < 1 {
		errs = append(errs, errors.New("tasks.workers must be at least 1"))
	}
	return errors.Join(errs...)
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// ValidateEmbeddingConfig validates the current embedding configuration by pinging the provider.
func (s *SettingsService) ValidateEmbeddingConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	a, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateEmbedding(&a.Embedding)
}

// ValidateLLMConfig validates the current LLM configuration by pinging the provider.
func (s *SettingsService) ValidateLLMConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	a, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateLLM(&a.LLM)
}
