// Package logging configures the process-wide zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	fileMu  sync.Mutex
	logFile *os.File  // Handle behind the current global logger
	console io.Writer // Console part of the current global logger, or nil
)

// SetupLogger configures the global logger based on verbosity level, writing
// to stderr and to the log file.
func SetupLogger(verbosity int) {
	SetupLoggerTo(verbosity, os.Stderr)
}

// SetupLoggerTo is SetupLogger with a different console. A nil console logs
// to the file only, which keeps a full-screen view clean.
func SetupLoggerTo(verbosity int, out io.Writer) {
	zerolog.SetGlobalLevel(levelFor(verbosity))

	var writers []io.Writer
	var consoleOut io.Writer
	if out != nil {
		consoleOut = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Kitchen,
		}
		writers = append(writers, consoleOut)
	}

	path := LogFilePath()

	fileMu.Lock()
	closeLogFile()
	handle, err := setupLogFile(path)
	if err == nil {
		logFile = handle
		writers = append(writers, handle)
	}
	console = consoleOut
	fileMu.Unlock()

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	// Now that a logger exists, report the missing file through it
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to create log file, logging to console only")
	}

	if verbosity >= 2 {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	log.Debug().Int("verbosity", verbosity).Str("logFile", path).Msg("Logger initialized")
}

// Close releases the log file. Later events reach the console only, if one
// was configured.
func Close() {
	fileMu.Lock()
	defer fileMu.Unlock()

	if logFile == nil {
		return
	}
	closeLogFile()
	if console != nil {
		log.Logger = log.Logger.Output(console)
	} else {
		log.Logger = zerolog.Nop()
	}
}

func closeLogFile() {
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func levelFor(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.WarnLevel
	case verbosity == 1:
		return zerolog.InfoLevel
	case verbosity == 2:
		return zerolog.DebugLevel
	}
	return zerolog.TraceLevel
}

// GetLogger returns a logger tagged with the given component name.
func GetLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// LogFilePath returns $XDG_STATE_HOME/actiontree/actiontree.log.
func LogFilePath() string {
	return filepath.Join(xdg.StateHome, "actiontree", "actiontree.log")
}

// setupLogFile creates the log file and its parent directories
func setupLogFile(logPath string) (*os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return file, nil
}

// LogOperationStart logs the start of an operation and returns a function to
// log its completion.
func LogOperationStart(logger zerolog.Logger, operation string) func() {
	start := time.Now()
	logger.Debug().
		Str("operation", operation).
		Msg("Operation started")

	return func() {
		logger.Debug().
			Str("operation", operation).
			Dur("duration", time.Since(start)).
			Msg("Operation completed")
	}
}
