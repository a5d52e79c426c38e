package logger

import (
	"go.uber.org/zap"
)

// New builds the process logger: JSON production output, or the human-readable
// development encoder outside production.
func New(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
