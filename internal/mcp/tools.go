package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/dbg-mcp/internal/config"
)

// registerTools registers the debugging tool set
func (s *Server) registerTools() {
	// Session Management
	s.registerDebugRun()
	s.registerDebugTerminate()
	s.registerDebugListSessions()

	// Execution Control
	s.registerDebugBreak()
	s.registerDebugContinue()
	s.registerDebugSteps()

	// Inspection
	s.registerDebugEval()
	s.registerDebugBacktrace()
	s.registerDebugListBreakpoints()
	s.registerDebugState()
}

// addTool registers a tool with the shared options and routes it through the
// dispatcher
func (s *Server) addTool(name, description string, handler toolHandler, opts ...mcp.ToolOption) {
	all := append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)
	all = append(all, commonOptions()...)

	s.handlers[name] = handler
	s.names = append(s.names, name)
	s.mcpServer.AddTool(mcp.NewTool(name, all...), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.call(ctx, request), nil
	})
}

func commonOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("session_id",
			mcp.Description("Session to address. Defaults to the most recently started session."),
		),
		mcp.WithString("verbosity",
			mcp.Description("How many result fields to include (default from server config)"),
			mcp.Enum(config.VerbosityMinimal, config.VerbosityFocused, config.VerbosityStandard, config.VerbosityComprehensive),
		),
		mcp.WithArray("focus_areas",
			mcp.Description("Only include these result sections: variables, stack, location, state, output"),
			mcp.Items(map[string]any{"type": "string", "enum": focusAreaNames()}),
		),
	}
}

// Session Management Tools

func (s *Server) registerDebugRun() {
	s.addTool("debug_run",
		"Load an executable into a new debugger session. The program is not started until debug_continue. Returns the session_id used by the other tools.",
		s.handleDebugRun,
		mcp.WithString("binary_path",
			mcp.Required(),
			mcp.Description("Path to the executable to debug"),
		),
		mcp.WithString("backend",
			mcp.Description("Debugger to drive: 'lldb' or 'gdb' (default: server config, then platform default)"),
			mcp.Enum("lldb", "gdb"),
		),
	)
}

func (s *Server) registerDebugTerminate() {
	s.addTool("debug_terminate",
		"Kill a session's debugger and debuggee without waiting for a command in flight. The session stays queryable with debug_state.",
		s.handleDebugTerminate,
	)
}

func (s *Server) registerDebugListSessions() {
	s.addTool("debug_list_sessions",
		"List all sessions with their state, backend and binary.",
		s.handleDebugListSessions,
	)
}

// Execution Control Tools

func (s *Server) registerDebugBreak() {
	s.addTool("debug_break",
		"Add a breakpoint. Breakpoints in code that is not loaded yet are kept pending and listed as unresolved.",
		s.handleDebugBreak,
		mcp.WithString("location",
			mcp.Required(),
			mcp.Description("Function name (main, my_crate::parse) or file:line (src/lib.rs:42)"),
		),
		mcp.WithString("condition",
			mcp.Description("Only stop when this expression is true"),
		),
	)
}

func (s *Server) registerDebugContinue() {
	s.addTool("debug_continue",
		"Run until the next breakpoint, signal or exit. The first call after debug_run launches the program.",
		s.handleDebugContinue,
	)
}

func (s *Server) registerDebugSteps() {
	s.addTool("debug_step",
		"Step over one source line. Requires a stopped program.",
		s.handleDebugStep,
	)
	s.addTool("debug_step_into",
		"Step into the call on the current line. Requires a stopped program.",
		s.handleDebugStepInto,
	)
	s.addTool("debug_step_out",
		"Run until the current function returns. Requires a stopped program.",
		s.handleDebugStepOut,
	)
}

// Inspection Tools

func (s *Server) registerDebugEval() {
	s.addTool("debug_eval",
		"Evaluate an expression in the current frame. Debugger commands and shell escapes are rejected.",
		s.handleDebugEval,
		mcp.WithString("expression",
			mcp.Required(),
			mcp.Description("Expression in the debuggee's language, e.g. 'x + 1' or 'point->y'"),
		),
	)
}

func (s *Server) registerDebugBacktrace() {
	s.addTool("debug_backtrace",
		"List the call stack of the stopped program, innermost frame first.",
		s.handleDebugBacktrace,
	)
}

func (s *Server) registerDebugListBreakpoints() {
	s.addTool("debug_list_breakpoints",
		"List the session's breakpoints with their ids, locations and hit counts.",
		s.handleDebugListBreakpoints,
	)
}

func (s *Server) registerDebugState() {
	s.addTool("debug_state",
		"Report the session state, stop reason and current location. Works in every state, including after the program ended.",
		s.handleDebugState,
	)
}
