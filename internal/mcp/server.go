package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/pkg/version"
)

// Server is the MCP server bridging AI clients with the per-project
// document index.
type Server struct {
	mcp    *mcp.Server
	logger *slog.Logger

	// lifecycle bounds background work (watcher, drainer); sessions
	// must outlive the tool call that created them.
	lifecycle context.Context

	mu      sync.RWMutex
	session *Session
}

// NewServer creates the server and registers its tools. No project is
// active until activate_project is called.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{logger: logger, lifecycle: context.Background()}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "cdocs",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("starting MCP server", slog.String("transport", "stdio"))

	s.mu.Lock()
	s.lifecycle = ctx
	s.mu.Unlock()

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped")
	return nil
}

// Activate loads and starts a project session, replacing any previous
// one. The session's background tasks are bound to the server
// lifecycle, not the activating call.
func (s *Server) Activate(_ context.Context, rootPath string) (*Session, error) {
	s.mu.RLock()
	lifecycle := s.lifecycle
	s.mu.RUnlock()

	session, err := newSession(lifecycle, rootPath, s.logger)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	previous := s.session
	s.session = session
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	s.logger.Info("project activated",
		slog.String("project", session.Key.Project),
		slog.String("branch", session.Key.Branch),
		slog.String("docs_root", session.DocsRoot))
	return session, nil
}

// Session returns the active session, if any.
func (s *Server) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// active gates every tool except activate_project.
func (s *Server) active() (*Session, error) {
	if session := s.Session(); session != nil {
		return session, nil
	}
	return nil, cdocserr.New(cdocserr.TagProjectNotActivated, "no project is activated").
		WithSuggestion("Call activate_project with the repository root path first.")
}

// Close shuts down the active session.
func (s *Server) Close() {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.mu.Unlock()

	if session != nil {
		session.Close()
	}
}
