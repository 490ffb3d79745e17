//go:build no_scripts

package discovery

import (
	"context"
	"log/slog"
	"time"

	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/runner"
)

// ScriptConfig holds hint script settings (stub).
type ScriptConfig struct {
	ExecAllowlist []string
	ExecTimeout   time.Duration
}

// ScriptSource is a no-op stub when scripting is disabled.
type ScriptSource struct {
	logger *slog.Logger
}

// NewScriptSource returns a source that yields no hints.
func NewScriptSource(_ string, _ ScriptConfig, _ runner.Runner, logger *slog.Logger) *ScriptSource {
	return &ScriptSource{logger: logger}
}

// HostHints returns no hints.
func (s *ScriptSource) HostHints(_ context.Context) (map[string]hostdir.Hint, error) {
	s.logger.Warn("hint script configured but scripting is disabled in this build")
	return map[string]hostdir.Hint{}, nil
}
