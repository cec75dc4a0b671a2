// Package main wires the MCP stdio transport into the kodo CLI.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/paxtone-io/openkodo/internal/logging"
	"github.com/paxtone-io/openkodo/internal/mcpserver"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Long: `Expose query, record, and context-generation tools over the Model
Context Protocol on stdio. Point an editor agent's MCP configuration at
this command. Logs go to stderr; stdout carries the protocol.

Examples:
  # Typical MCP server registration
  kodo mcp

  # Against another project
  kodo --dir ~/src/payments mcp`,
	Args: exactArgs(0),
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	daemonLog = true
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()
	defer func() { _ = logging.Sync(logger) }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := mcpserver.New(mcpserver.Options{
		Index:     eng.Index(),
		Generator: eng.Generator(),
		Curator:   eng.Curator(),
		Version:   version,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
