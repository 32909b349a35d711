// Package mcpserver exposes the memory store to MCP clients: agents
// add, query, and manage memories through tool calls.
package mcpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/evenscribe/umem/pkg/ingest"
	"github.com/evenscribe/umem/pkg/memory"
)

// Version is the MCP server version.
const Version = "0.1.0"

// Server is the MCP server for umem.
type Server struct {
	store     *memory.Store
	engine    *memory.Engine
	extractor *ingest.Extractor
	logger    zerolog.Logger
	server    *mcp.Server
}

// Config holds MCP server construction parameters.
type Config struct {
	Store     *memory.Store
	Engine    *memory.Engine
	Extractor *ingest.Extractor // optional; add_memory_from_url needs it
	Logger    zerolog.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil || cfg.Engine == nil {
		return nil, memory.ErrInvalidConfig
	}

	impl := &mcp.Implementation{
		Name:    "umem",
		Version: Version,
	}

	s := &Server{
		store:     cfg.Store,
		engine:    cfg.Engine,
		extractor: cfg.Extractor,
		logger:    cfg.Logger.With().Str("component", "mcp-server").Logger(),
		server:    mcp.NewServer(impl, nil),
	}

	s.registerTools()

	return s, nil
}

// Run starts the MCP server over stdio.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunHTTP starts the MCP server over HTTP on the specified address.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background()) //nolint:errcheck
	}()

	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
