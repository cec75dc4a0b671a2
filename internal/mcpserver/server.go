// Package mcpserver exposes querying, recording, and context generation
// as Model Context Protocol tools on a stdio transport. Editor agents
// reach the same engine the CLI drives; only the transport differs.
package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/paxtone-io/openkodo/internal/contextgen"
	"github.com/paxtone-io/openkodo/internal/curator"
	"github.com/paxtone-io/openkodo/internal/index"
)

// serverName identifies the implementation during the MCP handshake.
const serverName = "openkodo"

// Options configures the server.
type Options struct {
	// Index, Generator and Curator are required.
	Index     *index.Index
	Generator *contextgen.Generator
	Curator   *curator.Curator

	// Version is reported during the handshake. Empty means "dev".
	Version string

	Logger *zap.Logger
}

// Server hosts the MCP tools.
type Server struct {
	mcp       *mcp.Server
	index     *index.Index
	generator *contextgen.Generator
	curator   *curator.Curator
	logger    *zap.Logger
}

// New creates the server and registers its tools.
func New(opts Options) (*Server, error) {
	if opts.Index == nil {
		return nil, errors.New("mcpserver: Index is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("mcpserver: Generator is required")
	}
	if opts.Curator == nil {
		return nil, errors.New("mcpserver: Curator is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    serverName,
			Version: version,
		}, nil),
		index:     opts.Index,
		generator: opts.Generator,
		curator:   opts.Curator,
		logger:    logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdio until the context is canceled or the client
// disconnects. Logging must already point away from stdout, which
// belongs to the protocol.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting mcp server on stdio")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
