package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide logger. LOG_FORMAT=json selects the
// machine-readable handler for deployed environments; anything else gets
// the text handler for local work.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
