package util

import (
	"log"
	"os"
)

// The node speaks its wire protocol on stdout, so all logging goes to stderr.
var logger = log.New(os.Stderr, "", log.LstdFlags)

var currentLevel LogLevel = LogLevelInfo

func SetLevel(level LogLevel) {
	currentLevel = level
}

func Debug(format string, v ...interface{}) {
	if currentLevel <= LogLevelDebug {
		logger.Printf("[DEBUG] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if currentLevel <= LogLevelInfo {
		logger.Printf("[INFO] "+format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if currentLevel <= LogLevelWarn {
		logger.Printf("[WARN] "+format, v...)
	}
}

func Error(format string, v ...interface{}) {
	if currentLevel <= LogLevelError {
		logger.Printf("[ERROR] "+format, v...)
	}
}

func Fatal(format string, v ...interface{}) {
	logger.Printf("[FATAL] "+format, v...)
	os.Exit(1)
}
