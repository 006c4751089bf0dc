package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	event := ConversationLogEvent{
		UserID:     "5491122334455",
		SessionID:  "2026-03-01",
		Channel:    "whatsapp",
		Direction:  "inbound",
		EventType:  "user_text",
		ContentRaw: "quiero reservar <ACCION>{\"tipo\":\"ver_grilla\"}</ACCION> mañana",
	}
	logger.Log(event)

	path := filepath.Join(dir, "5491122334455", "2026-03-01.ndjson")
	line := waitForLogLine(t, path)
	var got ConversationLogEvent
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ContentRaw != event.ContentRaw {
		t.Fatalf("unexpected ContentRaw: %q", got.ContentRaw)
	}
	if got.Content != "quiero reservar mañana" {
		t.Fatalf("expected cleaned content without action block, got %q", got.Content)
	}
	if got.Timestamp == "" {
		t.Fatal("expected timestamp to be filled in")
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") {
		t.Fatalf("expected ANSI sequence to be stripped: %q", clean)
	}
	if !strings.Contains(clean, "error plain") {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func TestConversationLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	if _, ok := logger.(noopConversationLogger); !ok {
		t.Fatalf("expected noop logger, got %T", logger)
	}
	logger.Log(ConversationLogEvent{UserID: "u"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestConversationLoggerIgnoresEventsAfterClose(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       t.TempDir(),
		QueueSize: 1,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	logger.Log(ConversationLogEvent{UserID: "u", ContentRaw: "late"})
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestConversationLoggerBoundsOpenFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l := &fileConversationLogger{
		cfg:    ConversationLogConfig{Enabled: true, Dir: dir, MaxOpenFiles: 3},
		logger: slog.Default(),
		files:  make(map[string]*openLog),
	}

	const users = 50
	for i := 0; i < users; i++ {
		event := ConversationLogEvent{UserID: fmt.Sprintf("user-%d", i), SessionID: "2026-03-01"}
		l.write(l.sessionPath(event), []byte("{}\n"))
		if len(l.files) > 3 {
			t.Fatalf("open handles = %d after %d users, want at most 3", len(l.files), i+1)
		}
	}

	// A reopened file is appended to, not truncated.
	first := ConversationLogEvent{UserID: "user-0", SessionID: "2026-03-01"}
	l.write(l.sessionPath(first), []byte("{}\n"))
	for path, ol := range l.files {
		if err := ol.f.Close(); err != nil {
			t.Fatalf("close %s: %v", path, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "user-0", "2026-03-01.ndjson"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if got := strings.Count(string(data), "\n"); got != 2 {
		t.Fatalf("expected 2 lines in reopened file, got %d", got)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
