// Package logflags configures the server's logrus loggers.
//
// All log output goes to stderr; stdout is reserved for the MCP protocol.
// Each component asks for a logger tagged with its layer.
package logflags

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.RWMutex
	level  = logrus.InfoLevel
	wire   bool
	output io.Writer = os.Stderr
)

// Setup sets the log level ("debug", "info", "warn", "error") and whether
// debugger wire traffic is logged. An empty level keeps info.
func Setup(levelName string, logWire bool) error {
	lvl := logrus.InfoLevel
	if levelName != "" {
		var err error
		lvl, err = logrus.ParseLevel(levelName)
		if err != nil {
			return err
		}
	}
	mu.Lock()
	level = lvl
	wire = logWire
	mu.Unlock()
	return nil
}

// SetOutput redirects all loggers created afterwards. Used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	output = w
	mu.Unlock()
}

// Wire returns true if debugger commands and captured output should be logged.
func Wire() bool {
	mu.RLock()
	defer mu.RUnlock()
	return wire
}

func makeLogger(layer string) *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	logger := logrus.New()
	logger.Out = output
	logger.Formatter = &logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	logger.Level = level
	// Wire logs are emitted at debug level
	if wire && level < logrus.DebugLevel {
		logger.Level = logrus.DebugLevel
	}
	return logger.WithField("layer", layer)
}

// ServerLogger returns a logger for the MCP gateway.
func ServerLogger() *logrus.Entry { return makeLogger("server") }

// SessionLogger returns a logger for session lifecycle events.
func SessionLogger() *logrus.Entry { return makeLogger("session") }

// SupervisorLogger returns a logger for debugger subprocess management.
func SupervisorLogger() *logrus.Entry { return makeLogger("supervisor") }

// AdapterLogger returns a logger for backend detection and parsing.
func AdapterLogger() *logrus.Entry { return makeLogger("adapter") }
