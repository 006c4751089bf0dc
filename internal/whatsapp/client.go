package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Graph API defaults.
const (
	DefaultGraphBaseURL = "https://graph.facebook.com"
	DefaultAPIVersion   = "v18.0"
	DefaultTimeout      = 15 * time.Second

	maxMediaBytes = 10 << 20
	maxErrorBody  = 4 << 10
)

// ClientConfig configures a Graph API client.
type ClientConfig struct {
	Token         string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	Timeout       time.Duration
	// MaxMediaBytes caps downloaded media; zero means 10 MiB.
	MaxMediaBytes int64
}

// ErrMediaTooLarge is returned when a download exceeds the media size cap.
var ErrMediaTooLarge = errors.New("media exceeds size limit")

// Client talks to the WhatsApp Cloud API.
type Client struct {
	http     *http.Client
	token    string
	phoneID  string
	baseURL  string
	maxMedia int64
	logger   *slog.Logger
}

// APIError is a non-2xx answer from the Graph API.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: graph api status %d: %s", e.Op, e.Status, e.Body)
}

// NewClient creates a Graph API client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = maxMediaBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		token:    cfg.Token,
		phoneID:  cfg.PhoneNumberID,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.APIVersion,
		maxMedia: cfg.MaxMediaBytes,
		logger:   logger,
	}
}

// NormalizeRecipient rewrites Argentine mobile ids from the 549 form the
// webhook reports to the 54 form the send endpoint expects.
func NormalizeRecipient(id string) string {
	if len(id) == 13 && strings.HasPrefix(id, "549") {
		return "54" + id[3:]
	}
	return id
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type textBody struct {
	Body string `json:"body"`
}

// SendText sends a plain text message to userID.
func (c *Client) SendText(ctx context.Context, userID, body string) error {
	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               NormalizeRecipient(userID),
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.phoneID+"/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("send message", resp); err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type mediaInfo struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

// FetchMedia resolves mediaID to its download URL and downloads it.
func (c *Client) FetchMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+mediaID, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media lookup: %w", err)
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, "", fmt.Errorf("lookup media %s: %w", mediaID, err)
	}
	defer resp.Body.Close()
	if err := checkStatus("lookup media", resp); err != nil {
		return nil, "", err
	}

	var info mediaInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, "", fmt.Errorf("decode media info: %w", err)
	}
	if info.URL == "" {
		return nil, "", fmt.Errorf("media %s has no download url", mediaID)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media download: %w", err)
	}
	dl, err := c.do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media %s: %w", mediaID, err)
	}
	defer dl.Body.Close()
	if err := checkStatus("download media", dl); err != nil {
		return nil, "", err
	}

	data, err := io.ReadAll(io.LimitReader(dl.Body, c.maxMedia+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media %s: %w", mediaID, err)
	}
	if int64(len(data)) > c.maxMedia {
		return nil, "", fmt.Errorf("download media %s: %w", mediaID, ErrMediaTooLarge)
	}

	mediaType := info.MimeType
	if mediaType == "" {
		mediaType = dl.Header.Get("Content-Type")
	}
	c.logger.Debug("media downloaded", "media_id", mediaID, "bytes", len(data), "media_type", mediaType)
	return data, mediaType, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	return c.http.Do(req)
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &APIError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
