package obslog

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func drain(l *Logger) {
	l.Stop()
}

func TestLoggerWritesAboveConfiguredLevel(t *testing.T) {
	var out, errOut bytes.Buffer
	l := New()
	l.Configure(&out, &errOut, false)
	l.SetLevel(LevelWarn)

	l.Debug("should be dropped")
	l.Warn("heads up", "client", 7)
	l.Error("boom", "reason", "disk full")
	drain(l)

	if strings.Contains(out.String(), "should be dropped") {
		t.Fatalf("debug line should not reach the writer at WARN level:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "heads up") || !strings.Contains(out.String(), "client=7") {
		t.Fatalf("warn line missing attrs:\n%s", out.String())
	}
	if !strings.Contains(errOut.String(), "boom") {
		t.Fatalf("error line did not reach errOut:\n%s", errOut.String())
	}
}

func TestLoggerStopIsIdempotent(t *testing.T) {
	l := New()
	l.Info("one")
	l.Stop()
	l.Stop()
}

func TestRollingFileWriterRecreatesRemovedFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/test.log"
	w := NewRollingFileWriter(path)
	if _, err := w.Write([]byte("a\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := w.Write([]byte("b\n")); err != nil {
		t.Fatalf("write after removal: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "b\n" {
		t.Fatalf("expected recreated file to contain only the post-removal write, got %q", string(data))
	}
}
