package agent

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int

	// MaxOpenFiles caps cached file handles; the least recently written
	// file is closed first.
	MaxOpenFiles int
}

// ConversationLogEvent is one line in a conversation log file.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records conversation events without blocking the caller.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NopConversationLogger returns a logger that discards every event.
func NopConversationLogger() ConversationLogger { return noopConversationLogger{} }

type fileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	events chan ConversationLogEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	// files and seq are owned by the run goroutine.
	files map[string]*openLog
	seq   uint64
}

type openLog struct {
	f       *os.File
	lastUse uint64
}

// NewConversationLogger starts a background writer that appends events to
// Dir/<user>/<session>.ndjson and, optionally, to GlobalPath.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = 64
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		events: make(chan ConversationLogEvent, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*openLog),
	}
	go l.run()
	return l, nil
}

// Log enqueues an event. A full queue drops the event with a warning.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.events <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"user_id", event.UserID,
			"event_type", event.EventType)
	}
}

// Close drains the queue and closes open files.
func (l *fileConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()
	<-l.done

	var firstErr error
	for path, ol := range l.files {
		if err := ol.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", path, err)
		}
	}
	l.files = nil
	return firstErr
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for event := range l.events {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to marshal conversation event", "error", err)
			continue
		}
		line = append(line, '\n')

		l.write(l.sessionPath(event), line)
		if l.cfg.GlobalEnabled {
			l.write(l.cfg.GlobalPath, line)
		}
	}
}

func (l *fileConversationLogger) sessionPath(event ConversationLogEvent) string {
	user := safePathSegment(event.UserID, "unknown")
	sess := safePathSegment(event.SessionID, "default")
	return filepath.Join(l.cfg.Dir, user, sess+".ndjson")
}

func (l *fileConversationLogger) write(path string, line []byte) {
	l.seq++
	ol, ok := l.files[path]
	if !ok {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			l.logger.Warn("failed to create conversation log dir", "path", path, "error", err)
			return
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			l.logger.Warn("failed to open conversation log", "path", path, "error", err)
			return
		}
		l.evictOldest(l.cfg.MaxOpenFiles - 1)
		ol = &openLog{f: f}
		l.files[path] = ol
	}
	ol.lastUse = l.seq
	if _, err := ol.f.Write(line); err != nil {
		l.logger.Warn("failed to write conversation log", "path", path, "error", err)
	}
}

// evictOldest closes least recently written files until at most keep remain.
func (l *fileConversationLogger) evictOldest(keep int) {
	for len(l.files) > keep {
		var oldest string
		var oldestUse uint64
		for path, ol := range l.files {
			if oldest == "" || ol.lastUse < oldestUse {
				oldest, oldestUse = path, ol.lastUse
			}
		}
		if err := l.files[oldest].f.Close(); err != nil {
			l.logger.Warn("failed to close conversation log", "path", oldest, "error", err)
		}
		delete(l.files, oldest)
	}
}

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safePathSegment(s, fallback string) string {
	s = unsafeSegment.ReplaceAllString(strings.TrimSpace(s), "_")
	s = strings.Trim(s, "._")
	if s == "" {
		return fallback
	}
	return s
}

var (
	ansiSequence = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	actionBlock  = regexp.MustCompile(`(?s)<ACCION>.*?</ACCION>`)
	extraSpace   = regexp.MustCompile(`[ \t]+`)
)

// cleanForReadability strips control sequences and action blocks and
// collapses runs of blanks so log lines read as plain chat text.
func cleanForReadability(s string) string {
	s = ansiSequence.ReplaceAllString(s, "")
	s = actionBlock.ReplaceAllString(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = extraSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
