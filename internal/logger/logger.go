// Package logger builds the process-wide zap logger.
package logger

import "go.uber.org/zap"

// NewForEnvironment returns a JSON production logger for production
// deployments and a human-readable development logger otherwise.
func NewForEnvironment(env string) (*zap.Logger, error) {
	if env == "production" || env == "prod" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
