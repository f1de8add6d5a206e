// Package logger provides the process-wide structured log file. Trace events
// and backend clients write here; stdout stays clean for command output.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

var (
	globalLogger *log.Logger
	logFile      *os.File
	verbose      bool
	mu           sync.Mutex
)

// Init initializes the global logger with the specified log file path.
func Init(logPath string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close previous log file if exists
	if logFile != nil {
		logFile.Close()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	logFile = f
	globalLogger = log.New(f, "", log.Ltime|log.Lmicroseconds)

	return nil
}

// SetVerbose additionally echoes every message to stderr.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
}

// Close closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
		globalLogger = nil
	}
}

func write(level, format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if globalLogger != nil {
		globalLogger.Printf("["+level+"] "+format, v...)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "["+level+"] "+format+"\n", v...)
	}
}

// Info logs an info message.
func Info(format string, v ...interface{}) {
	write("INFO", format, v...)
}

// Debug logs a debug message.
func Debug(format string, v ...interface{}) {
	write("DEBUG", format, v...)
}

// Warn logs a warning message.
func Warn(format string, v ...interface{}) {
	write("WARN", format, v...)
}

// Error logs an error message.
func Error(format string, v ...interface{}) {
	write("ERROR", format, v...)
}

// GetWriter returns the underlying writer for use by backend clients.
func GetWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		return logFile
	}
	return io.Discard
}
