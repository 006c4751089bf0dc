package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ciruelos/padelbot/internal/agent"
)

const msgTurnFailed = "Hubo un problema tecnico, intenta de nuevo."

// limiterIdle is how long a user's limiter may go unused before it is
// dropped. Burst never exceeds the per-minute rate, so an idle limiter has
// refilled completely by then.
const limiterIdle = time.Minute

// TurnHandler processes one inbound message for a user.
type TurnHandler interface {
	HandleText(ctx context.Context, userID, text string) error
	HandleImage(ctx context.Context, userID, mediaID, mediaType string) error
}

// TextSender delivers a text message to a user.
type TextSender interface {
	SendText(ctx context.Context, userID, body string) error
}

// DispatcherConfig sizes the worker pool and the per-user throttle.
type DispatcherConfig struct {
	Workers       int
	QueueSize     int
	RatePerMinute int
	TurnTimeout   time.Duration
}

// Dispatcher runs turns on a bounded worker pool so webhook deliveries are
// acknowledged immediately. Messages from one user may be processed
// concurrently and out of order.
type Dispatcher struct {
	handler TurnHandler
	sender  TextSender
	convLog agent.ConversationLogger
	cfg     DispatcherConfig
	logger  *slog.Logger
	clock   func() time.Time

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}

	limitersMu sync.Mutex
	limiters   map[string]*userLimiter
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewDispatcher creates a dispatcher. Call Start to launch the workers.
func NewDispatcher(handler TurnHandler, sender TextSender, convLog agent.ConversationLogger, cfg DispatcherConfig, clock func() time.Time, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 3 * time.Minute
	}
	if convLog == nil {
		convLog = agent.NopConversationLogger()
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handler:  handler,
		sender:   sender,
		convLog:  convLog,
		cfg:      cfg,
		logger:   logger,
		clock:    clock,
		queue:    make(chan Event, cfg.QueueSize),
		stop:     make(chan struct{}),
		limiters: make(map[string]*userLimiter),
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work(i)
	}
	if d.cfg.RatePerMinute > 0 {
		go d.pruneLoop()
	}
	d.logger.Info("dispatcher started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)
}

// Enqueue queues ev without blocking. It returns false when the user is
// over their rate, the queue is full or the dispatcher is closed.
func (d *Dispatcher) Enqueue(ev Event) bool {
	if !d.allow(ev.UserID) {
		d.logger.Warn("user rate limit exceeded", "user_id", ev.UserID)
		return false
	}
	if ev.TurnID == "" {
		ev.TurnID = uuid.NewString()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	select {
	case d.queue <- ev:
		return true
	default:
		d.logger.Warn("dispatch queue full", "user_id", ev.UserID, "queue_len", len(d.queue))
		return false
	}
}

func (d *Dispatcher) allow(userID string) bool {
	if d.cfg.RatePerMinute <= 0 {
		return true
	}
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()

	ul, ok := d.limiters[userID]
	if !ok {
		burst := min(d.cfg.RatePerMinute, 5)
		ul = &userLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(d.cfg.RatePerMinute)), burst)}
		d.limiters[userID] = ul
	}
	ul.lastSeen = d.clock()
	return ul.limiter.Allow()
}

func (d *Dispatcher) pruneLoop() {
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			if n := d.pruneLimiters(); n > 0 {
				d.logger.Debug("pruned idle rate limiters", "count", n)
			}
		}
	}
}

// pruneLimiters drops limiters unused for limiterIdle and returns how many
// were removed.
func (d *Dispatcher) pruneLimiters() int {
	cutoff := d.clock().Add(-limiterIdle)
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()

	removed := 0
	for userID, ul := range d.limiters {
		if !ul.lastSeen.After(cutoff) {
			delete(d.limiters, userID)
			removed++
		}
	}
	return removed
}

func (d *Dispatcher) work(id int) {
	defer d.wg.Done()
	for ev := range d.queue {
		d.process(ev)
	}
	d.logger.Debug("dispatcher worker stopped", "worker", id)
}

func (d *Dispatcher) process(ev Event) {
	ctx, cancel := context.WithTimeout(WithTurnID(context.Background(), ev.TurnID), d.cfg.TurnTimeout)
	defer cancel()

	start := d.clock()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("turn panicked", "user_id", ev.UserID, "turn_id", ev.TurnID, "panic", fmt.Sprint(r))
			if err := d.sender.SendText(ctx, ev.UserID, msgTurnFailed); err != nil {
				d.logger.Error("failed to send apology", "user_id", ev.UserID, "error", err)
			}
		}
	}()

	d.logInbound(ev, start)

	var err error
	switch ev.Kind {
	case EventText:
		err = d.handler.HandleText(ctx, ev.UserID, ev.Text)
	case EventImage:
		err = d.handler.HandleImage(ctx, ev.UserID, ev.MediaID, ev.MediaType)
	default:
		err = fmt.Errorf("unsupported event kind %q", ev.Kind)
	}

	duration := d.clock().Sub(start)
	if err != nil {
		d.logger.Error("turn failed",
			"user_id", ev.UserID,
			"turn_id", ev.TurnID,
			"kind", ev.Kind,
			"timed_out", errors.Is(err, context.DeadlineExceeded),
			"error", err)
		return
	}
	d.logger.Info("turn processed",
		"user_id", ev.UserID,
		"turn_id", ev.TurnID,
		"kind", ev.Kind,
		"duration_ms", duration.Milliseconds())
}

func (d *Dispatcher) logInbound(ev Event, at time.Time) {
	event := agent.ConversationLogEvent{
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		UserID:    ev.UserID,
		SessionID: conversationDay(at),
		Channel:   "whatsapp",
		Direction: "inbound",
		Meta:      map[string]any{"turn_id": ev.TurnID, "message_id": ev.MessageID},
	}
	switch ev.Kind {
	case EventText:
		event.EventType = "user_text"
		event.ContentRaw = ev.Text
	case EventImage:
		event.EventType = "user_image"
		event.ContentRaw = "[imagen " + ev.MediaID + "]"
		event.Meta["media_type"] = ev.MediaType
	}
	d.convLog.Log(event)
}

// Close stops accepting events and waits for queued turns to finish.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.stop)
	remaining := len(d.queue)
	close(d.queue)
	d.mu.Unlock()

	d.logger.Info("dispatcher closing", "queue_remaining", remaining)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped gracefully")
		return nil
	case <-time.After(d.cfg.TurnTimeout):
		d.logger.Warn("dispatcher shutdown timeout")
		return errors.New("dispatcher shutdown timed out")
	}
}

// Stats reports queue occupancy.
func (d *Dispatcher) Stats() map[string]any {
	d.limitersMu.Lock()
	users := len(d.limiters)
	d.limitersMu.Unlock()
	return map[string]any{
		"queue_len":      len(d.queue),
		"queue_capacity": cap(d.queue),
		"workers":        d.cfg.Workers,
		"tracked_users":  users,
	}
}
