package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/kbase/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and configure storage, compaction, task and AI provider settings.

Settings live in config.toml inside the config directory.`,
	Annotations: map[string]string{annotationSettingsOnly: "true"},
	RunE:        runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a single setting",
	Long: `Set a single setting by its dotted key.

Examples:
  kbase settings set compaction.similarity_threshold 0.8
  kbase settings set tasks.workers 4
  kbase settings set store.persist_on_append false`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List every setting key",
	Args:  cobra.NoArgs,
	RunE:  runSettingsKeys,
}

var settingsEmbeddingCmd = &cobra.Command{
	Use:   "embedding",
	Short: "Configure the embedding provider",
	Long:  `Configure the provider used to embed records before clustering.`,
	RunE:  runSettingsEmbedding,
}

var settingsLLMCmd = &cobra.Command{
	Use:   "llm",
	Short: "Configure the LLM provider",
	Long:  `Configure the provider used for grouping, merging and extraction.`,
	RunE:  runSettingsLLM,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsKeysCmd)
	settingsCmd.AddCommand(settingsEmbeddingCmd)
	settingsCmd.AddCommand(settingsLLMCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errSettingsNotConfigured
	}

	values, err := settingsService.Values()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	keys := make([]string, 0, len(values))
	width := 0
	for k := range values {
		keys = append(keys, k)
		width = max(width, len(k))
	}
	sort.Strings(keys)

	section := ""
	for _, k := range keys {
		if prefix, _, ok := strings.Cut(k, "."); ok && prefix != section {
			if section != "" {
				cmd.Println()
			}
			section = prefix
		}
		cmd.Printf("%-*s  %v\n", width, k, values[k])
	}

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("\nWarning: %v\n", err)
		cmd.Println("Run 'kbase settings llm' to configure a provider.")
	}
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errSettingsNotConfigured
	}
	if err := settingsService.Set(args[0], args[1]); err != nil {
		return err
	}
	cmd.Printf("%s = %s\n", args[0], args[1])
	return nil
}

func runSettingsKeys(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errSettingsNotConfigured
	}
	for _, k := range settingsService.Keys() {
		cmd.Println(k)
	}
	return nil
}

func runSettingsEmbedding(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errSettingsNotConfigured
	}
	return configureProvider(cmd, bufio.NewReader(cmd.InOrStdin()), embeddingFlow())
}

func runSettingsLLM(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errSettingsNotConfigured
	}
	return configureProvider(cmd, bufio.NewReader(cmd.InOrStdin()), llmFlow())
}

// providerFlow describes one interactive provider setup.
type providerFlow struct {
	label     string
	providers []domain.AIProvider
	defaults  map[domain.AIProvider]string
	set       func(domain.AIProvider, string, string) error
	validate  func() error
}

func embeddingFlow() providerFlow {
	return providerFlow{
		label:     "Embedding",
		providers: domain.AllEmbeddingProviders(),
		defaults:  domain.DefaultEmbeddingModels(),
		set:       settingsService.SetEmbeddingProvider,
		validate:  settingsService.ValidateEmbeddingConfig,
	}
}

func llmFlow() providerFlow {
	return providerFlow{
		label:     "LLM",
		providers: domain.AllLLMProviders(),
		defaults:  domain.DefaultLLMModels(),
		set:       settingsService.SetLLMProvider,
		validate:  settingsService.ValidateLLMConfig,
	}
}

func configureProvider(cmd *cobra.Command, reader *bufio.Reader, f providerFlow) error {
	cmd.Printf("Select %s Provider\n", f.label)
	for i, p := range f.providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	idx := parseChoice(readLine(reader), len(f.providers), 1)
	selected := f.providers[idx-1]

	defaultModel := f.defaults[selected]
	cmd.Printf("Enter model name [%s]: ", defaultModel)
	model := readLine(reader)
	if model == "" {
		model = defaultModel
	}

	var apiKey string
	if selected.RequiresAPIKey() {
		cmd.Print("Enter API key: ")
		apiKey = readPassword(reader)
		cmd.Println()
		if apiKey == "" {
			return errors.New("API key is required for this provider")
		}
	}

	if err := f.set(selected, model, apiKey); err != nil {
		return fmt.Errorf("failed to configure %s provider: %w", f.label, err)
	}

	cmd.Print("Validating configuration... ")
	if err := f.validate(); err != nil {
		cmd.Printf("FAILED: %v\n", err)
		return fmt.Errorf("%s configuration validation failed: %w", f.label, err)
	}
	cmd.Println("OK")

	if apiKey != "" {
		cmd.Printf("%s provider configured: %s (%s, key %s)\n", f.label, selected.Description(), model, maskAPIKey(apiKey))
	} else {
		cmd.Printf("%s provider configured: %s (%s)\n", f.label, selected.Description(), model)
	}
	return nil
}

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

// readPassword reads without echo on a terminal, otherwise from reader.
func readPassword(reader *bufio.Reader) string {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		if err == nil {
			return string(password)
		}
	}
	return readLine(reader)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
