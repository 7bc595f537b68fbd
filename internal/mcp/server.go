// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// This package exposes native debugger sessions through MCP tools that can be
// used by AI assistants and other MCP clients:
//
// Session Management:
//   - debug_run: Load a binary into a new lldb or gdb session
//   - debug_terminate: Kill a session's debugger
//   - debug_list_sessions: List sessions
//
// Execution Control:
//   - debug_break: Add a breakpoint at a function or file:line
//   - debug_continue: Launch or resume until the next stop
//   - debug_step, debug_step_into, debug_step_out: Step variants
//
// Inspection:
//   - debug_eval: Evaluate an expression in the current frame
//   - debug_backtrace: List the current frames
//   - debug_list_breakpoints: List the session's breakpoints
//   - debug_state: Report the session status
//
// Every tool also accepts session_id, verbosity and focus_areas. The last two
// only shape the JSON result; they never change what is sent to the debugger.
package mcp

import (
	"context"
	stdlog "log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/ctagard/dbg-mcp/internal/adapters"
	"github.com/ctagard/dbg-mcp/internal/config"
	"github.com/ctagard/dbg-mcp/internal/logflags"
	"github.com/ctagard/dbg-mcp/internal/session"
	"github.com/ctagard/dbg-mcp/internal/version"
)

// Server wraps the MCP server with debugging capabilities
type Server struct {
	mcpServer  *server.MCPServer
	sessions   *session.Manager
	adapterReg *adapters.Registry
	config     *config.Config
	log        *logrus.Entry

	handlers map[string]toolHandler
	names    []string
}

// NewServer creates a new dbg-mcp server. The registry should already have
// been narrowed to the backends found on this machine.
func NewServer(cfg *config.Config, registry *adapters.Registry) *Server {
	log := logflags.ServerLogger()

	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest) {
		log.WithField("tool", message.Params.Name).Debug("tool call")
	})
	hooks.AddOnError(func(ctx context.Context, id any, method mcp.MCPMethod, message any, err error) {
		log.WithField("method", method).Warnf("request failed: %v", err)
	})

	mcpServer := server.NewMCPServer(
		version.Name,
		version.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithHooks(hooks),
	)

	s := &Server{
		mcpServer:  mcpServer,
		sessions:   session.NewManager(cfg, registry),
		adapterReg: registry,
		config:     cfg,
		log:        log,
		handlers:   make(map[string]toolHandler),
	}

	s.registerTools()

	return s
}

// ServeStdio serves MCP over stdin/stdout until the input stream closes
func (s *Server) ServeStdio() error {
	errLog := stdlog.New(s.log.WriterLevel(logrus.ErrorLevel), "", 0)
	return server.ServeStdio(s.mcpServer, server.WithErrorLogger(errLog))
}

// Close terminates every session
func (s *Server) Close() {
	s.sessions.Close()
}

// Sessions returns the session registry
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}
