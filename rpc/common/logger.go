// Package common provides logging utilities for the application
package common

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements logger.ILogger)
// --------------------------------------------------------------------------

// dLockLogger implements the ILogger interface with custom formatting
type dLockLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *dLockLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *dLockLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *dLockLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *dLockLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *dLockLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *dLockLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

// log formats and writes a log message. this internal helper is used by the public methods
func (l *dLockLogger) log(levelStr string, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, message)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger implements the logger.Factory interface
func CreateLogger(pkgName string) logger.ILogger {
	// Create standard logger with custom flags
	stdLogger := log.New(os.Stdout, "", log.Ldate|log.Ltime)

	return &dLockLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: stdLogger,
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseLogLevel converts a string level to logger.LogLevel
func parseLogLevel(level string) logger.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG
	case "info":
		return logger.INFO
	case "warning", "warn":
		return logger.WARNING
	case "error":
		return logger.ERROR
	default:
		panic(fmt.Sprintf("invalid log level: %s. must be one of debug, info, warn, error", level))
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// loggerFactoryOnce guards the process-wide logger factory installation.
var loggerFactoryOnce sync.Once

// InitLoggers initializes all loggers with the custom format. It may be
// called more than once per process; later calls only reset the levels.
func InitLoggers(logLevel string) {
	// Set as the global logger factory (dragonboat accepts it only once)
	loggerFactoryOnce.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	// Configure the loggers of all subsystems
	logger.GetLogger("lock").SetLevel(parseLogLevel(logLevel))
	logger.GetLogger("provider/redis").SetLevel(parseLogLevel(logLevel))
	logger.GetLogger("rpc").SetLevel(parseLogLevel(logLevel))
	logger.GetLogger("transport/rpc").SetLevel(parseLogLevel(logLevel))
}
