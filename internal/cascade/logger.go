package cascade

import "github.com/orthovision/orthovision/internal/logger"

// GetLogger returns the cascade module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("cascade")
}
