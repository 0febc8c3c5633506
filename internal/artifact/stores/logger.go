// Package stores provides artifact store implementations: a model hub over
// HTTP, FTP, SFTP and a local directory mirror.
package stores

import "github.com/orthovision/orthovision/internal/logger"

// GetLogger returns the stores package logger. It is fetched from the global
// logger each time so it follows a central logger installed after init.
func GetLogger() logger.Logger {
	return logger.Global().Module("artifact").Module("store")
}

// Field constructors re-exported for use in this package.
// This avoids import shadowing issues with function parameters named "logger".
var (
	logString   = logger.String
	logError    = logger.Error
	logInt      = logger.Int
	logInt64    = logger.Int64
	logDuration = logger.Duration
)
