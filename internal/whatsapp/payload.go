// Package whatsapp is the WhatsApp Cloud API transport: webhook handlers,
// the Graph API client and the asynchronous turn dispatcher.
package whatsapp

// WebhookPayload is the body Meta posts to the webhook.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes for one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one notification inside an entry.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries inbound messages. Status updates arrive with no messages.
type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Contacts         []Contact `json:"contacts"`
	Messages         []Message `json:"messages"`
}

// Contact is the sender profile attached to a change.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Message is one inbound message.
type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image *Media `json:"image,omitempty"`
}

// Media references an uploaded media object.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
}

// EventKind distinguishes the inbound events the booking flow consumes.
type EventKind string

const (
	EventText  EventKind = "text"
	EventImage EventKind = "image"
)

// Event is a normalized inbound message.
type Event struct {
	Kind      EventKind
	UserID    string
	MessageID string
	Text      string
	MediaID   string
	MediaType string
	// TurnID correlates the log lines of one processed message.
	TurnID string
}

// Events extracts text and image events from the payload. Messages of any
// other type, or missing their content, are returned as skipped.
func (p WebhookPayload) Events() (events []Event, skipped []Message) {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				ev, ok := toEvent(msg)
				if !ok {
					skipped = append(skipped, msg)
					continue
				}
				events = append(events, ev)
			}
		}
	}
	return events, skipped
}

func toEvent(msg Message) (Event, bool) {
	if msg.From == "" {
		return Event{}, false
	}
	ev := Event{UserID: msg.From, MessageID: msg.ID}

	switch msg.Type {
	case "text":
		if msg.Text == nil || msg.Text.Body == "" {
			return Event{}, false
		}
		ev.Kind = EventText
		ev.Text = msg.Text.Body
	case "image":
		if msg.Image == nil || msg.Image.ID == "" {
			return Event{}, false
		}
		ev.Kind = EventImage
		ev.MediaID = msg.Image.ID
		ev.MediaType = msg.Image.MimeType
		if ev.MediaType == "" {
			ev.MediaType = "image/jpeg"
		}
	default:
		return Event{}, false
	}
	return ev, true
}
