package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"info", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" warn ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRollingFileWriterRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custodian.log")

	w, err := newRollingFileWriter(Config{FilePath: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("newRollingFileWriter: %v", err)
	}
	rfw := w.(*rollingFileWriter)
	rfw.maxBytes = 64 // shrink the threshold so the test stays small

	line := []byte(strings.Repeat("x", 48) + "\n")
	if _, err := rfw.Write(line); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := rfw.Write(line); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if err := rfw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	var rotated int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "custodian.log.") {
			rotated++
		}
	}
	if rotated != 1 {
		t.Errorf("rotated files = %d, want 1", rotated)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat current log: %v", err)
	}
	if info.Size() != int64(len(line)) {
		t.Errorf("current log size = %d, want %d", info.Size(), len(line))
	}
}

func TestRollingFileWriterRefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target.log")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatalf("write target: %v", err)
	}
	link := filepath.Join(dir, "link.log")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := newRollingFileWriter(Config{FilePath: link}); err == nil {
		t.Errorf("newRollingFileWriter accepted symlink path")
	}
}

func TestComponentLoggerWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custodian.log")

	Init(Config{Format: "json", Level: "info", FilePath: path})
	defer Shutdown()

	logger := Component("casestore")
	logger.Info().Str("case", "INV-1").Msg("case created")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	for _, want := range []string{`"component":"casestore"`, `"case":"INV-1"`, "case created"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
