package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/kbase/internal/adapters/driving/inbox"
	"github.com/custodia-labs/kbase/internal/adapters/driving/mcp"
	"github.com/custodia-labs/kbase/internal/logger"
	"github.com/custodia-labs/kbase/internal/normalisers"
)

// shutdownTimeout bounds the final drain and compaction on exit.
const shutdownTimeout = 10 * time.Minute

var (
	serveInbox       string
	serveMetricsAddr string
	serveMCPPort     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run background compaction and task processing",
	Long: `Runs the compaction scheduler and the task processor until interrupted.

Optional endpoints:
  --inbox DIR          extract every transcript dropped into DIR
  --metrics-addr ADDR  serve Prometheus metrics at ADDR/metrics
  --mcp-port N         serve MCP over HTTP at :N/mcp

On interrupt, queued tasks are drained and a final compaction runs before
the knowledge file is written.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveInbox, "inbox", "", "directory to watch for transcripts")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "address for the metrics endpoint, e.g. :9090")
	serveCmd.Flags().IntVar(&serveMCPPort, "mcp-port", 0, "HTTP port for MCP (0 = disabled)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if runtime == nil {
		return errors.New("runtime not configured")
	}
	if serveInbox != "" && taskProcessor == nil {
		return errProcessorNotConfigured
	}

	ctx := cmd.Context()
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	logger.Info("serve: running, press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	if serveInbox != "" {
		w := inbox.New(serveInbox, taskProcessor,
			inbox.WithStatusReader(knowledgeStore),
			inbox.WithExtensions(normalisers.Default().Extensions()...))
		g.Go(func() error { return w.Run(gctx) })
	}

	mux := http.NewServeMux()
	if serveMetricsAddr != "" {
		if metricsHandler == nil {
			logger.Warn("serve: metrics not available")
		} else {
			mux.Handle("/metrics", metricsHandler)
			g.Go(func() error { return listen(gctx, serveMetricsAddr, mux) })
		}
	}
	if serveMCPPort > 0 {
		server, err := mcp.NewServer(&mcp.Ports{Store: knowledgeStore, KnowledgeBase: knowledgeBase})
		if err != nil {
			return stopRuntime(ctx, err)
		}
		mcpMux := http.NewServeMux()
		mcpMux.Handle("/mcp", server.Handler())
		addr := fmt.Sprintf(":%d", serveMCPPort)
		cmd.Printf("MCP server listening on http://localhost%s/mcp\n", addr)
		g.Go(func() error { return listen(gctx, addr, mcpMux) })
	}

	<-gctx.Done()
	return stopRuntime(ctx, g.Wait())
}

// stopRuntime shuts the runtime down and combines its error with cause.
func stopRuntime(ctx context.Context, cause error) error {
	logger.Info("serve: shutting down")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var result *multierror.Error
	if cause != nil && !errors.Is(cause, context.Canceled) {
		result = multierror.Append(result, cause)
	}
	if err := runtime.Shutdown(sctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// listen serves h on addr until ctx is cancelled.
func listen(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background()) //nolint:errcheck
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return nil
}
