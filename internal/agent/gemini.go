package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ciruelos/padelbot/internal/domain"
	"github.com/google/generative-ai-go/genai"
)

// GeminiConfig selects the chat model and response cap.
type GeminiConfig struct {
	Model     string
	MaxTokens int
}

// GeminiExtractor implements Extractor on the Gemini chat API.
type GeminiExtractor struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *slog.Logger
}

// NewGeminiExtractor creates an extractor sharing client with other callers.
func NewGeminiExtractor(client *genai.Client, cfg GeminiConfig, logger *slog.Logger) *GeminiExtractor {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiExtractor{client: client, cfg: cfg, logger: logger}
}

// Extract sends the conversation to Gemini and splits off the action block.
func (g *GeminiExtractor) Extract(ctx context.Context, req Request) (*Reply, error) {
	history, last, err := toGeminiHistory(req.History)
	if err != nil {
		return nil, err
	}

	// A model handle carries its system instruction, so build one per call.
	model := g.client.GenerativeModel(g.cfg.Model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(SystemPrompt(req.Context))}}
	model.SetMaxOutputTokens(int32(g.cfg.MaxTokens))

	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, fmt.Errorf("gemini chat: %w", err)
	}
	raw := responseText(resp)
	if raw == "" {
		return nil, errors.New("gemini chat: empty response")
	}

	text, action, err := ExtractAction(raw)
	if err != nil {
		g.logger.Warn("discarding malformed action block",
			"user_id", req.UserID,
			"error", err)
	}
	return &Reply{Text: text, Action: action}, nil
}

// toGeminiHistory maps stored turns onto Gemini roles, merging consecutive
// turns of the same role. The final user turn is returned separately as the
// message to send.
func toGeminiHistory(turns []domain.Turn) ([]*genai.Content, string, error) {
	var contents []*genai.Content
	var texts [][]string
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "model"
		}
		if n := len(contents); n > 0 && contents[n-1].Role == role {
			texts[n-1] = append(texts[n-1], t.Content)
			continue
		}
		contents = append(contents, &genai.Content{Role: role})
		texts = append(texts, []string{t.Content})
	}

	// Gemini histories must open with a user turn.
	for len(contents) > 0 && contents[0].Role != "user" {
		contents = contents[1:]
		texts = texts[1:]
	}
	if len(contents) == 0 || contents[len(contents)-1].Role != "user" {
		return nil, "", errors.New("conversation must end with a user turn")
	}

	for i, c := range contents {
		c.Parts = []genai.Part{genai.Text(strings.Join(texts[i], "\n"))}
	}
	last := strings.Join(texts[len(texts)-1], "\n")
	return contents[:len(contents)-1], last, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			sb.WriteString(string(textPart))
		}
	}
	return strings.TrimSpace(sb.String())
}
