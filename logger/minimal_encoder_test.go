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

func TestMinimalEncoderFormatsMessageAndTime(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Date(2026, 7, 30, 13, 4, 35, 0, time.UTC),
		LoggerName: "session",
		Message:    "pulse sent",
	}

	buf, err := encoder.EncodeEntry(entry, nil)
	if err != nil {
		t.Fatalf("EncodeEntry() error = %v", err)
	}

	output := stripANSI(buf.String())
	if !strings.Contains(output, "13:04:35") {
		t.Errorf("expected timestamp in output, got: %s", output)
	}
	if !strings.Contains(output, "pulse sent") {
		t.Errorf("expected message in output, got: %s", output)
	}
	if !strings.Contains(output, "s.ession") && !strings.Contains(output, "session") {
		t.Errorf("expected abbreviated component name in output, got: %s", output)
	}
}

func TestMinimalEncoderShowsLevelForWarnAndError(t *testing.T) {
	encoder := newMinimalEncoder()

	for _, level := range []zapcore.Level{zapcore.WarnLevel, zapcore.ErrorLevel} {
		entry := zapcore.Entry{Level: level, Time: time.Now(), Message: "something happened"}
		buf, err := encoder.EncodeEntry(entry, nil)
		if err != nil {
			t.Fatalf("EncodeEntry() error = %v", err)
		}
		output := stripANSI(buf.String())
		if !strings.Contains(output, level.CapitalString()) {
			t.Errorf("expected level %s in output, got: %s", level.CapitalString(), output)
		}
	}

	entry := zapcore.Entry{Level: zapcore.InfoLevel, Time: time.Now(), Message: "fine"}
	buf, err := encoder.EncodeEntry(entry, nil)
	if err != nil {
		t.Fatalf("EncodeEntry() error = %v", err)
	}
	if strings.Contains(stripANSI(buf.String()), "INFO") {
		t.Error("info level should not print a level marker")
	}
}

// TestMinimalEncoderSurfacesDomainFields checks that the fields the encoder
// specifically understands (hostname, session id, size, duration) always
// show up in the compact output.
func TestMinimalEncoderSurfacesDomainFields(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{
		Level:   zapcore.InfoLevel,
		Time:    time.Now(),
		Message: "upload verified",
	}

	fields := []zapcore.Field{
		zap.String(FieldHostname, "WIN-ABC123"),
		zap.String(FieldSessionID, "sess_01hz"),
		zap.Int64(FieldSize, 1048576),
		zap.Int64(FieldDurationMS, 420),
	}

	buf, err := encoder.EncodeEntry(entry, fields)
	if err != nil {
		t.Fatalf("EncodeEntry() error = %v", err)
	}

	output := stripANSI(buf.String())
	for _, want := range []string{"WIN-ABC123", "sess_01hz", "1048576 bytes", "420ms"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in encoded output, got: %s", want, output)
		}
	}
}

// TestMinimalEncoderNeverPanicsOnUnknownFields ensures odd field types don't
// crash the encoder even though they aren't specifically surfaced.
func TestMinimalEncoderNeverPanicsOnUnknownFields(t *testing.T) {
	encoder := newMinimalEncoder()

	entry := zapcore.Entry{Level: zapcore.InfoLevel, Time: time.Now(), Message: "misc"}

	fields := []zapcore.Field{
		zap.Complex128("complex", complex(1.0, 2.0)),
		zap.Duration("duration", 5*time.Second),
		zap.Time("timestamp", time.Now()),
		zap.Binary("binary", []byte{0x01, 0x02, 0x03}),
		zap.Error(nil),
	}

	if _, err := encoder.EncodeEntry(entry, fields); err != nil {
		t.Fatalf("EncodeEntry() should not error on unusual field types: %v", err)
	}
}

func TestMinimalEncoderClone(t *testing.T) {
	encoder := newMinimalEncoder()
	cloned := encoder.Clone()
	if cloned == nil {
		t.Fatal("Clone() returned nil")
	}
	if _, ok := cloned.(*minimalEncoder); !ok {
		t.Fatalf("Clone() returned %T, want *minimalEncoder", cloned)
	}
}

func TestSetTheme(t *testing.T) {
	defer SetTheme("everforest")

	SetTheme("gruvbox")
	if currentTheme != "gruvbox" {
		t.Errorf("SetTheme(gruvbox) = %s, want gruvbox", currentTheme)
	}

	SetTheme("everforest")
	if currentTheme != "everforest" {
		t.Errorf("SetTheme(everforest) = %s, want everforest", currentTheme)
	}

	SetTheme("not-a-real-theme")
	if currentTheme != "everforest" {
		t.Errorf("SetTheme() with unknown theme should be a no-op, got %s", currentTheme)
	}
}
