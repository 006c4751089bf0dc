package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciruelos/padelbot/internal/agent"
)

const deliveryBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "1",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "messages": [
          {"from": "5491122334455", "id": "m1", "type": "text", "text": {"body": "hola"}},
          {"from": "5491122334455", "id": "m2", "type": "image", "image": {"id": "media-1", "mime_type": "image/png"}},
          {"from": "5491122334455", "id": "m3", "type": "sticker"},
          {"from": "5491122334455", "id": "m4", "type": "text", "text": {"body": ""}}
        ]
      }
    }]
  }]
}`

type recordingQueue struct {
	mu     sync.Mutex
	events []Event
	accept bool
}

func (q *recordingQueue) Enqueue(ev Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	return q.accept
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestPayloadEvents(t *testing.T) {
	var p WebhookPayload
	require.NoError(t, json.Unmarshal([]byte(deliveryBody), &p))

	events, skipped := p.Events()
	require.Len(t, events, 2)
	assert.Equal(t, Event{Kind: EventText, UserID: "5491122334455", MessageID: "m1", Text: "hola"}, events[0])
	assert.Equal(t, Event{Kind: EventImage, UserID: "5491122334455", MessageID: "m2", MediaID: "media-1", MediaType: "image/png"}, events[1])
	assert.Len(t, skipped, 2)
}

func TestWebhookVerify(t *testing.T) {
	h := NewWebhookHandler("tok", "", &recordingQueue{}, nil)
	router := h.Routes()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=42", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "42", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/?hub.mode=subscribe&hub.verify_token=bad&hub.challenge=42", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookReceiveQueuesEventsAndAlwaysAcks(t *testing.T) {
	q := &recordingQueue{accept: false}
	router := NewWebhookHandler("tok", "", q, nil).Routes()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(deliveryBody)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.Len(t, q.events, 2)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookSignature(t *testing.T) {
	q := &recordingQueue{accept: true}
	router := NewWebhookHandler("tok", "app-secret", q, nil).Routes()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(deliveryBody))
	req.Header.Set(SignatureHeader, sign("app-secret", deliveryBody))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, q.events, 2)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(deliveryBody))
	req.Header.Set(SignatureHeader, sign("other", deliveryBody))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Len(t, q.events, 2)
}

func TestNormalizeRecipient(t *testing.T) {
	assert.Equal(t, "541122334455", NormalizeRecipient("5491122334455"))
	assert.Equal(t, "541122334455", NormalizeRecipient("541122334455"))
	assert.Equal(t, "14155550100", NormalizeRecipient("14155550100"))
}

func TestClientSendText(t *testing.T) {
	var got sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v18.0/phone-1/messages", r.URL.Path)
		assert.Equal(t, "Bearer graph-token", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"messages":[{"id":"wamid"}]}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Token: "graph-token", PhoneNumberID: "phone-1", BaseURL: srv.URL}, nil)
	require.NoError(t, c.SendText(context.Background(), "5491122334455", "hola"))
	assert.Equal(t, "541122334455", got.To)
	assert.Equal(t, "hola", got.Text.Body)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
}

func TestClientSendTextReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"bad token"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Token: "x", PhoneNumberID: "p", BaseURL: srv.URL}, nil)
	err := c.SendText(context.Background(), "1", "hola")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Contains(t, apiErr.Body, "bad token")
}

func TestClientFetchMediaTwoSteps(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer graph-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v18.0/media-1":
			_ = json.NewEncoder(w).Encode(mediaInfo{URL: srv.URL + "/download/media-1", MimeType: "image/png"})
		case "/download/media-1":
			_, _ = w.Write([]byte("png-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Token: "graph-token", PhoneNumberID: "p", BaseURL: srv.URL}, nil)
	data, mediaType, err := c.FetchMedia(context.Background(), "media-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)
	assert.Equal(t, "image/png", mediaType)

	_, _, err = c.FetchMedia(context.Background(), "missing")
	assert.Error(t, err)
}

func TestClientFetchMediaRejectsOversizedDownload(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v18.0/big":
			_ = json.NewEncoder(w).Encode(mediaInfo{URL: srv.URL + "/download/big", MimeType: "image/jpeg"})
		case "/download/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 17)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Token: "t", PhoneNumberID: "p", BaseURL: srv.URL, MaxMediaBytes: 16}, nil)
	_, _, err := c.FetchMedia(context.Background(), "big")
	require.ErrorIs(t, err, ErrMediaTooLarge)

	exact := NewClient(ClientConfig{Token: "t", PhoneNumberID: "p", BaseURL: srv.URL, MaxMediaBytes: 17}, nil)
	data, _, err := exact.FetchMedia(context.Background(), "big")
	require.NoError(t, err)
	assert.Len(t, data, 17)
}

type recordingTurns struct {
	mu     sync.Mutex
	texts  []string
	images []string
	turns  []string
	done   chan struct{}
	panics bool
}

func (r *recordingTurns) HandleText(ctx context.Context, _ string, text string) error {
	if r.panics {
		panic("boom")
	}
	r.mu.Lock()
	r.texts = append(r.texts, text)
	r.turns = append(r.turns, TurnIDFromContext(ctx))
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func (r *recordingTurns) HandleImage(_ context.Context, _ string, mediaID, _ string) error {
	r.mu.Lock()
	r.images = append(r.images, mediaID)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

type memorySender struct {
	mu   sync.Mutex
	sent []string
	done chan struct{}
}

func (m *memorySender) SendText(_ context.Context, _ string, body string) error {
	m.mu.Lock()
	m.sent = append(m.sent, body)
	m.mu.Unlock()
	if m.done != nil {
		m.done <- struct{}{}
	}
	return nil
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatcher")
	}
}

func TestDispatcherRunsTurnsWithTurnIDs(t *testing.T) {
	turns := &recordingTurns{done: make(chan struct{}, 4)}
	d := NewDispatcher(turns, &memorySender{}, agent.NopConversationLogger(), DispatcherConfig{Workers: 2, QueueSize: 4}, nil, nil)
	d.Start()

	require.True(t, d.Enqueue(Event{Kind: EventText, UserID: "u1", Text: "hola"}))
	require.True(t, d.Enqueue(Event{Kind: EventImage, UserID: "u1", MediaID: "media-1"}))
	waitFor(t, turns.done)
	waitFor(t, turns.done)
	require.NoError(t, d.Close())

	assert.Equal(t, []string{"hola"}, turns.texts)
	assert.Equal(t, []string{"media-1"}, turns.images)
	require.Len(t, turns.turns, 1)
	assert.NotEmpty(t, turns.turns[0])

	assert.False(t, d.Enqueue(Event{Kind: EventText, UserID: "u1", Text: "tarde"}))
}

func TestDispatcherRateLimitsPerUser(t *testing.T) {
	turns := &recordingTurns{done: make(chan struct{}, 16)}
	d := NewDispatcher(turns, &memorySender{}, nil, DispatcherConfig{Workers: 1, QueueSize: 16, RatePerMinute: 2}, nil, nil)

	assert.True(t, d.Enqueue(Event{Kind: EventText, UserID: "u1", Text: "1"}))
	assert.True(t, d.Enqueue(Event{Kind: EventText, UserID: "u1", Text: "2"}))
	assert.False(t, d.Enqueue(Event{Kind: EventText, UserID: "u1", Text: "3"}))
	assert.True(t, d.Enqueue(Event{Kind: EventText, UserID: "u2", Text: "1"}))
}

func TestDispatcherPrunesIdleLimiters(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	d := NewDispatcher(&recordingTurns{}, &memorySender{}, nil, DispatcherConfig{Workers: 1, QueueSize: 16, RatePerMinute: 20}, clock, nil)
	require.True(t, d.Enqueue(Event{Kind: EventText, UserID: "u1", Text: "1"}))
	require.True(t, d.Enqueue(Event{Kind: EventText, UserID: "u2", Text: "1"}))

	advance(30 * time.Second)
	require.True(t, d.Enqueue(Event{Kind: EventText, UserID: "u2", Text: "2"}))
	assert.Equal(t, 0, d.pruneLimiters())

	advance(40 * time.Second)
	assert.Equal(t, 1, d.pruneLimiters())
	assert.Equal(t, 1, d.Stats()["tracked_users"])

	advance(time.Minute)
	assert.Equal(t, 1, d.pruneLimiters())
	assert.Equal(t, 0, d.Stats()["tracked_users"])
}

func TestDispatcherRecoversPanickingTurn(t *testing.T) {
	sender := &memorySender{done: make(chan struct{}, 1)}
	d := NewDispatcher(&recordingTurns{panics: true}, sender, nil, DispatcherConfig{Workers: 1, QueueSize: 1}, nil, nil)
	d.Start()
	defer func() { _ = d.Close() }()

	require.True(t, d.Enqueue(Event{Kind: EventText, UserID: "u1", Text: "hola"}))
	waitFor(t, sender.done)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []string{msgTurnFailed}, sender.sent)
}

type captureLogger struct {
	mu     sync.Mutex
	events []agent.ConversationLogEvent
}

func (c *captureLogger) Log(ev agent.ConversationLogEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureLogger) Close() error { return nil }

func TestLoggingSenderRecordsOutbound(t *testing.T) {
	logs := &captureLogger{}
	now := time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC)
	s := NewLoggingSender(&memorySender{}, logs, func() time.Time { return now })

	ctx := WithTurnID(context.Background(), "turn-1")
	require.NoError(t, s.SendText(ctx, "u1", "Perfecto!"))

	require.Len(t, logs.events, 1)
	ev := logs.events[0]
	assert.Equal(t, "outbound", ev.Direction)
	assert.Equal(t, "Perfecto!", ev.ContentRaw)
	// 01:30 UTC is still the previous day on the club clock.
	assert.Equal(t, "2026-03-01", ev.SessionID)
	assert.Equal(t, "turn-1", ev.Meta["turn_id"])
}
