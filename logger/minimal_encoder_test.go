package logger

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// stripANSI removes ANSI color codes from a string for testing
func stripANSI(str string) string {
	ansiRegex := regexp.MustCompile(`\x1b\[[0-9;]*m`)
	return ansiRegex.ReplaceAllString(str, "")
}

// TestMinimalEncoderNeverDiscardsFields ensures the minimal encoder NEVER
// silently discards log fields. Lost debugging information is the worst
// failure mode a logger can have.
func TestMinimalEncoderNeverDiscardsFields(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Now(),
		LoggerName: "test",
		Message:    "Testing field preservation",
	}

	testFields := []struct {
		field    zapcore.Field
		mustFind string // What we must find in the output
	}{
		{zap.String("status", "pending"), "status=pending"},
		{zap.Bool("misfired", true), "misfired=true"},
		{zap.Float64("overdue_minutes", 2.5), "overdue_minutes=2.5"},
		{zap.Strings("tags", []string{"work", "meds"}), "tags=[work meds]"},

		// Random field names that should NEVER be dropped
		{zap.String("random_field_xyz", "important_data"), "random_field_xyz=important_data"},
		{zap.Int("critical_count", 999), "critical_count=999"},
		{zap.String("error_details", "null pointer exception"), "error_details=null pointer exception"},

		// Fields with underscores and dots (edge cases)
		{zap.String("field_with_underscores", "test"), "field_with_underscores=test"},
		{zap.String("field.with.dots", "test2"), "field.with.dots=test2"},

		// Numeric fields
		{zap.Int32("int32_field", 42), "int32_field=42"},
		{zap.Int64("int64_field", 9999999), "int64_field=9999999"},

		// Error fields (critical for debugging!)
		{zap.Error(nil), ""}, // nil error shouldn't crash
		{zap.String("error", "something went wrong"), "error=something went wrong"},

		// Special-cased scheduling fields keep their compact value-only form
		{zap.String("task_id", "a1b2c3"), "a1b2c3"},
		{zap.String("topic", "reminders"), "reminders"},
		{zap.Int("duration_ms", 42), "42ms"},
	}

	var allFields []zapcore.Field
	for _, tf := range testFields {
		allFields = append(allFields, tf.field)
	}

	buf, err := encoder.EncodeEntry(entry, allFields)
	if err != nil {
		t.Fatalf("Failed to encode entry: %v", err)
	}

	output := buf.String()
	cleanOutput := stripANSI(output)

	for _, tf := range testFields {
		if tf.mustFind != "" && !strings.Contains(cleanOutput, tf.mustFind) {
			t.Errorf("Field was silently discarded from log output: %s\nClean output: %s",
				tf.mustFind, cleanOutput)
		}
	}
}

func TestMinimalEncoderLayout(t *testing.T) {
	encoder := newMinimalEncoder()

	at := time.Date(2026, 3, 2, 13, 4, 35, 0, time.UTC)
	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       at,
		LoggerName: "schedule.ticker",
		Message:    "Dispatched notification",
	}

	buf, err := encoder.EncodeEntry(entry, []zapcore.Field{
		zap.String("task_id", "a1b2c3"),
		zap.Int("duration_ms", 42),
	})
	if err != nil {
		t.Fatalf("Failed to encode entry: %v", err)
	}

	clean := stripANSI(buf.String())

	if !strings.Contains(clean, "13:04:35") {
		t.Errorf("expected HH:MM:SS timestamp, got: %s", clean)
	}
	if !strings.Contains(clean, "s.ticker") {
		t.Errorf("expected abbreviated component name, got: %s", clean)
	}
	if !strings.Contains(clean, "Dispatched notification") {
		t.Errorf("expected message, got: %s", clean)
	}
	if !strings.Contains(clean, "a1b2c3") || !strings.Contains(clean, "42ms") {
		t.Errorf("expected extracted field values, got: %s", clean)
	}
	// INFO level produces no level tag
	if strings.Contains(clean, "INFO") {
		t.Errorf("info entries should not carry a level tag: %s", clean)
	}
}

func TestLevelColorString(t *testing.T) {
	if s := stripANSI(levelColorString(zapcore.WarnLevel)); s != "WARN" {
		t.Errorf("WarnLevel = %q, want WARN", s)
	}
	if s := stripANSI(levelColorString(zapcore.ErrorLevel)); s != "ERROR" {
		t.Errorf("ErrorLevel = %q, want ERROR", s)
	}
	if s := levelColorString(zapcore.InfoLevel); s != "" {
		t.Errorf("InfoLevel = %q, want empty", s)
	}
}

func TestAbbreviateName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ticker", "ticker"},
		{"schedule.ticker", "s.ticker"},
		{"notify.ntfy", "n.ntfy"},
		{"task.service.history", "t.service.history"},
	}
	for _, tt := range tests {
		if got := abbreviateName(tt.in); got != tt.want {
			t.Errorf("abbreviateName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestColorizeMessageBrackets(t *testing.T) {
	msg := "advanced [task:a1b2c3] after [misfired] occurrence"
	out := colorizeMessage(msg)

	// Content survives colorization intact
	if clean := stripANSI(out); clean != msg {
		t.Errorf("colorizeMessage altered text: %q != %q", clean, msg)
	}
	// Both bracket groups picked up some ANSI coloring
	if !strings.Contains(out, "[task:a1b2c3]") || !strings.Contains(out, "[misfired]") {
		t.Errorf("bracket contents mangled: %q", out)
	}
}

func TestSetTheme(t *testing.T) {
	original := currentTheme
	defer SetTheme(original)

	SetTheme("everforest")
	if currentTheme != "everforest" {
		t.Errorf("SetTheme(everforest) not applied")
	}

	SetTheme("solarized") // unknown themes are ignored
	if currentTheme != "everforest" {
		t.Errorf("unknown theme should be ignored, got %s", currentTheme)
	}

	SetTheme("gruvbox")
	if currentTheme != "gruvbox" {
		t.Errorf("SetTheme(gruvbox) not applied")
	}
}
