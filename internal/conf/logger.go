// Package conf provides configuration management for OrthoVision.
package conf

import "github.com/orthovision/orthovision/internal/logger"

// GetLogger returns the config package logger. It is fetched from the global
// logger on every call since the central logger may be installed after
// settings are loaded.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
