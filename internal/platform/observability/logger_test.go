package observability

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		level, env string
		debug      bool
	}{
		{level: "debug", env: "local", debug: true},
		{level: " DEBUG ", env: "prod", debug: true},
		{level: "", env: "prod"},
		{level: "verbose", env: "staging"},
	}
	for _, tc := range cases {
		logger, err := NewLogger(tc.level, tc.env)
		if err != nil {
			t.Fatalf("NewLogger(%q, %q): %v", tc.level, tc.env, err)
		}
		if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debug {
			t.Fatalf("level %q: debug enabled = %v, want %v", tc.level, got, tc.debug)
		}
		if !logger.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("level %q: info must be enabled", tc.level)
		}
	}
}
