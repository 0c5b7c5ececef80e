package utils

import (
	"go.uber.org/zap"
)

// NewLogger returns a development logger for local runs and the JSON
// production logger otherwise.
func NewLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	return cfg.Build()
}
