package whatsapp

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ciruelos/padelbot/internal/api"
)

// Enqueuer accepts inbound events for asynchronous processing.
type Enqueuer interface {
	Enqueue(ev Event) bool
}

// WebhookHandler serves the Meta webhook endpoints.
type WebhookHandler struct {
	verifyToken string
	appSecret   string
	queue       Enqueuer
	logger      *slog.Logger
}

// NewWebhookHandler creates a webhook handler. An empty appSecret disables
// signature checks on deliveries.
func NewWebhookHandler(verifyToken, appSecret string, queue Enqueuer, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		verifyToken: verifyToken,
		appSecret:   appSecret,
		queue:       queue,
		logger:      logger,
	}
}

// Routes mounts GET (subscription challenge) and POST (deliveries) on "/".
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Verify)
	r.With(SignatureMiddleware(h.appSecret)).Post("/", h.Receive)
	return r
}

// Verify answers the subscription handshake.
func (h *WebhookHandler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.verifyToken == "" || q.Get("hub.verify_token") != h.verifyToken {
		h.logger.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		api.Error(w, http.StatusForbidden, "verification failed")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, q.Get("hub.challenge"))
}

// Receive decodes a delivery and queues its messages. Every decodable
// delivery is acknowledged with 200 so Meta does not retry it.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var payload WebhookPayload
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&payload); err != nil {
		h.logger.Warn("invalid webhook body", "error", err)
		api.Error(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	events, skipped := payload.Events()
	for _, msg := range skipped {
		h.logger.Info("ignoring unsupported message", "user_id", msg.From, "type", msg.Type, "message_id", msg.ID)
	}
	for _, ev := range events {
		if !h.queue.Enqueue(ev) {
			h.logger.Warn("inbound message dropped", "user_id", ev.UserID, "message_id", ev.MessageID, "kind", ev.Kind)
		}
	}

	api.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
