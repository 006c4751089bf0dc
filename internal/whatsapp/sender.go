package whatsapp

import (
	"context"
	"time"

	"github.com/ciruelos/padelbot/internal/agent"
	"github.com/ciruelos/padelbot/internal/domain"
)

// LoggingSender records every outbound message in the conversation log
// before delegating to next.
type LoggingSender struct {
	next    TextSender
	convLog agent.ConversationLogger
	clock   func() time.Time
}

// NewLoggingSender wraps next.
func NewLoggingSender(next TextSender, convLog agent.ConversationLogger, clock func() time.Time) *LoggingSender {
	if convLog == nil {
		convLog = agent.NopConversationLogger()
	}
	if clock == nil {
		clock = time.Now
	}
	return &LoggingSender{next: next, convLog: convLog, clock: clock}
}

// SendText sends body and logs the outcome.
func (s *LoggingSender) SendText(ctx context.Context, userID, body string) error {
	err := s.next.SendText(ctx, userID, body)

	now := s.clock()
	meta := map[string]any{}
	if id := TurnIDFromContext(ctx); id != "" {
		meta["turn_id"] = id
	}
	if err != nil {
		meta["send_error"] = err.Error()
	}
	s.convLog.Log(agent.ConversationLogEvent{
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		UserID:     userID,
		SessionID:  conversationDay(now),
		Channel:    "whatsapp",
		Direction:  "outbound",
		EventType:  "assistant_text",
		ContentRaw: body,
		Meta:       meta,
	})
	return err
}

// conversationDay names the per-user log file: one file per club day.
func conversationDay(t time.Time) string {
	return t.In(domain.ClubZone).Format(domain.DateLayout)
}
