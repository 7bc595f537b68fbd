package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ctagard/dbg-mcp/internal/adapters"
	"github.com/ctagard/dbg-mcp/internal/config"
	"github.com/ctagard/dbg-mcp/internal/logflags"
	"github.com/ctagard/dbg-mcp/internal/mcp"
	"github.com/ctagard/dbg-mcp/internal/version"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (JSON or YAML)")
	backend := flag.String("backend", "", "Default debugger: 'lldb' or 'gdb'")
	maxSessions := flag.Int("max-sessions", 0, "Maximum number of live sessions")
	commandTimeout := flag.Duration("command-timeout", 0, "Timeout for a single debugger command")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	logWire := flag.Bool("log-wire", false, "Log every debugger command and output line")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", version.Name, version.GetVersion())
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags override the file
	if *backend != "" {
		cfg.DefaultBackend = *backend
	}
	if *maxSessions > 0 {
		cfg.MaxSessions = *maxSessions
	}
	if *commandTimeout > 0 {
		cfg.CommandTimeout = config.Duration(*commandTimeout)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logWire {
		cfg.Log.Wire = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logflags.Setup(cfg.Log.Level, cfg.Log.Wire); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	log := logflags.ServerLogger()

	// Find the debuggers installed on this machine
	registry := adapters.NewRegistry(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.StartupTimeout.D()+time.Second)
	_, err = registry.Detect(ctx, cfg.StartupTimeout.D())
	cancel()
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}

	// Create and start the server
	server := mcp.NewServer(cfg, registry)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("Shutting down...")
		server.Close()
		os.Exit(0)
	}()

	// Start serving via stdio
	log.WithField("version", version.Version).WithField("backend", registry.Default()).Info("dbg-mcp server starting")
	if err := server.ServeStdio(); err != nil {
		server.Close()
		log.Errorf("Server error: %v", err)
		os.Exit(1)
	}
	server.Close()
}

func printHelp() {
	fmt.Println(`dbg-mcp: native debugger MCP server

A Model Context Protocol (MCP) server that drives lldb or gdb on behalf of an
AI agent. Debugger commands are generated from structured tool calls; the
agent never sends raw debugger or shell commands.

USAGE:
    dbg-mcp [OPTIONS]

OPTIONS:
    -config <path>             Path to configuration file (JSON or YAML)
    -backend <lldb|gdb>        Default debugger (default: lldb on macOS, gdb elsewhere)
    -max-sessions <n>          Maximum number of live sessions (default: 4)
    -command-timeout <dur>     Timeout for a single debugger command (default: 30s)
    -log-level <level>         debug, info, warn or error (default: info)
    -log-wire                  Log every debugger command and output line
    -version                   Show version and exit
    -help                      Show this help message

CONFIGURATION:
    {
        "maxSessions": 4,
        "commandTimeout": "30s",
        "hardTimeout": "2m",
        "sessionTimeout": "30m",
        "defaultBackend": "lldb",
        "backends": {
            "lldb": { "path": "lldb" },
            "gdb":  { "path": "${userHome}/bin/gdb", "args": ["-nx"] }
        },
        "validation": {
            "allowedPaths": ["${cwd}/target/**"],
            "maxExpressionLength": 1024
        },
        "response": { "verbosity": "standard" },
        "log": { "level": "info" }
    }

MCP INTEGRATION:
    {
        "mcpServers": {
            "dbg-mcp": {
                "command": "dbg-mcp",
                "args": ["-backend", "lldb"]
            }
        }
    }

TOOLS:
    Session Management:
        debug_run               Load a binary into a new session
        debug_terminate         Kill a session's debugger
        debug_list_sessions     List sessions

    Execution Control:
        debug_break             Add a breakpoint
        debug_continue          Launch or resume the program
        debug_step              Step over one line
        debug_step_into         Step into a call
        debug_step_out          Run until the current function returns

    Inspection:
        debug_eval              Evaluate an expression
        debug_backtrace         List the call stack
        debug_list_breakpoints  List breakpoints
        debug_state             Report the session status`)
}
