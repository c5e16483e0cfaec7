// Package cli provides the kbase command-line interface.
package cli

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/core/ports/driving"
	"github.com/custodia-labs/kbase/internal/logger"
)

// version is set by Execute from the build.
var version = "dev"

// Lifecycle starts and stops background work for long-running commands.
type Lifecycle interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Services holds everything commands call into. Fields may be nil when a
// command does not need them.
type Services struct {
	Store         driving.KnowledgeStore
	KnowledgeBase driving.KnowledgeBase
	Scheduler     driving.CompactionScheduler
	Processor     driving.TaskProcessor
	Settings      driving.SettingsService
	Runtime       Lifecycle

	// Metrics serves Prometheus metrics on serve --metrics-addr.
	Metrics http.Handler

	// Close flushes the store and releases resources.
	Close func(ctx context.Context) error
}

// Options are passed to the Bootstrap.
type Options struct {
	ConfigDir string

	// SettingsOnly asks for the settings service alone, without opening the
	// store or contacting providers.
	SettingsOnly bool
}

// Bootstrap builds the services for a command invocation.
type Bootstrap func(ctx context.Context, opts Options) (*Services, error)

// annotation keys on commands.
const (
	annotationNoServices   = "kbase/no-services"
	annotationSettingsOnly = "kbase/settings-only"
)

var (
	verbose   bool
	configDir string

	bootstrap Bootstrap

	knowledgeStore  driving.KnowledgeStore
	knowledgeBase   driving.KnowledgeBase
	scheduler       driving.CompactionScheduler
	taskProcessor   driving.TaskProcessor
	settingsService driving.SettingsService
	runtime         Lifecycle
	metricsHandler  http.Handler
	closeServices   func(ctx context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "kbase",
	Short: "Append-only knowledge base with background compaction",
	Long: `kbase collects question/answer records extracted from transcripts,
stores them in an append-only file and periodically merges duplicates
with an LLM.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setupServices,
	PersistentPostRunE: teardownServices,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default ~/.kbase)")
}

// Execute runs the root command with b building services on demand.
func Execute(ctx context.Context, b Bootstrap, v string) error {
	bootstrap = b
	if v != "" {
		version = v
	}
	return rootCmd.ExecuteContext(ctx)
}

// SetServices installs services directly, bypassing the Bootstrap.
func SetServices(s *Services) {
	if s == nil {
		s = &Services{}
	}
	knowledgeStore = s.Store
	knowledgeBase = s.KnowledgeBase
	scheduler = s.Scheduler
	taskProcessor = s.Processor
	settingsService = s.Settings
	runtime = s.Runtime
	metricsHandler = s.Metrics
	closeServices = s.Close
}

func setupServices(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)
	if bootstrap == nil || hasAnnotation(cmd, annotationNoServices) {
		return nil
	}
	s, err := bootstrap(cmd.Context(), Options{
		ConfigDir:    configDir,
		SettingsOnly: hasAnnotation(cmd, annotationSettingsOnly),
	})
	if err != nil {
		return err
	}
	SetServices(s)
	return nil
}

func teardownServices(cmd *cobra.Command, _ []string) error {
	if closeServices == nil {
		return nil
	}
	err := closeServices(context.WithoutCancel(cmd.Context()))
	closeServices = nil
	return err
}

// hasAnnotation checks cmd and its parents.
func hasAnnotation(cmd *cobra.Command, key string) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[key]; ok {
			return true
		}
	}
	return false
}

var (
	errStoreNotConfigured     = errors.New("knowledge store not configured")
	errKBNotConfigured        = errors.New("knowledge base not configured")
	errProcessorNotConfigured = errors.New("task processor not configured")
	errSettingsNotConfigured  = errors.New("settings service not configured")
)
