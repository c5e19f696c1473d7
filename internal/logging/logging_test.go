package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		raw    string
		want   zerolog.Level
		wantOK bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, true},
		{" WARNING ", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"loud", zerolog.InfoLevel, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseLevel(%q) = (%v, %v), want (%v, %v)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestNew_LevelAndEnvOverride(t *testing.T) {
	t.Setenv(EnvLogNoColor, "true")

	var buf bytes.Buffer
	logger := New("meshrelay", "warn", &buf)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn level output = %q", buf.String())
	}

	t.Setenv(EnvLogLevel, "debug")
	buf.Reset()
	logger = New("meshrelay", "warn", &buf)
	logger.Debug().Msg("debug line")
	if !strings.Contains(buf.String(), "debug line") {
		t.Errorf("env override ignored, output = %q", buf.String())
	}
	if !strings.Contains(buf.String(), "app=meshrelay") {
		t.Errorf("output %q missing app field", buf.String())
	}
}
