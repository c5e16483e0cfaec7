package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/kbase/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so AI assistants can search
the knowledge base, read statistics and trigger compaction.

By default the server speaks JSON-RPC over stdio. Use --port to serve HTTP
instead. Background compaction runs while the server is up.

Examples:
  # Stdio mode (for desktop assistants)
  kbase mcp serve

  # HTTP mode (for MCP Inspector, remote access)
  kbase mcp serve --port 8080

Assistant configuration:
  {
    "mcpServers": {
      "kbase": {
        "command": "/path/to/kbase",
        "args": ["mcp", "serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	server, err := mcp.NewServer(&mcp.Ports{Store: knowledgeStore, KnowledgeBase: knowledgeBase})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if runtime != nil {
		if err := runtime.Start(ctx); err != nil {
			return err
		}
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		// stderr keeps stdout clean for clients that capture it.
		fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on http://localhost%s\n", addr)
		err = server.RunHTTP(ctx, addr)
	} else {
		err = server.Run(ctx)
	}

	if runtime == nil {
		return err
	}
	return stopRuntime(ctx, err)
}
