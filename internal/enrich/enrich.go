// Package enrich derives AI fields (summary, bullets, action items, tags)
// for note content using the Anthropic Messages API. The model is asked for
// strict JSON; anything else is rejected so a malformed completion can never
// overwrite good derived fields.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dkocetkov/notesync/internal/client/models"
	"github.com/dkocetkov/notesync/internal/logging"
)

const systemPrompt = `You analyze a personal note and respond with a single JSON object, no prose, matching:
{"summary": "one sentence", "bullets": ["key point", ...], "action_items": ["task", ...], "tags": ["topic", ...]}
Omit action_items when the note contains no tasks. Use at most 5 bullets and 5 tags.`

// messagesAPI is the slice of the Anthropic client the service uses; the
// SDK's MessageService satisfies it.
type messagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Service derives enrichment fields for note content.
type Service struct {
	messages messagesAPI
	model    anthropic.Model
	logger   logging.Logger
}

// New returns a Service backed by the Anthropic API.
func New(apiKey string, model anthropic.Model, logger logging.Logger) (*Service, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		model = anthropic.Model("claude-sonnet-4-5")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Service{messages: &client.Messages, model: model, logger: logger}, nil
}

// Enrich asks the model for derived fields over the note text.
func (s *Service) Enrich(ctx context.Context, text string) (*models.Enrichment, error) {
	msg, err := s.messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("enrichment request failed: %w", err)
	}

	var completion strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			completion.WriteString(block.Text)
		}
	}

	e, err := parseEnrichment(completion.String())
	if err != nil {
		return nil, err
	}

	s.logger.Debug(ctx, "note enriched", "model", string(msg.Model),
		"input_tokens", msg.Usage.InputTokens, "output_tokens", msg.Usage.OutputTokens)
	return e, nil
}

// parseEnrichment extracts the JSON object from a completion. Models
// occasionally wrap the object in a code fence; strip it before decoding.
func parseEnrichment(completion string) (*models.Enrichment, error) {
	raw := strings.TrimSpace(completion)
	if after, ok := strings.CutPrefix(raw, "```json"); ok {
		raw = after
	} else if after, ok := strings.CutPrefix(raw, "```"); ok {
		raw = after
	}
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "```")

	var e models.Enrichment
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("malformed enrichment completion: %w", err)
	}
	return &e, nil
}
