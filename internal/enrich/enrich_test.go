package enrich

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dkocetkov/notesync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessages struct {
	completion string
	err        error
	lastParams anthropic.MessageNewParams
}

func (f *fakeMessages) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: f.completion},
		},
	}, nil
}

func newService(fake *fakeMessages) *Service {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &Service{messages: fake, model: anthropic.Model("claude-sonnet-4-5"), logger: logger}
}

func TestEnrich_ParsesCompletion(t *testing.T) {
	fake := &fakeMessages{completion: `{
		"summary": "plan the trip",
		"bullets": ["book flights", "reserve hotel"],
		"action_items": ["email travel agent"],
		"tags": ["travel"]
	}`}
	s := newService(fake)

	e, err := s.Enrich(context.Background(), "Trip planning notes...")
	require.NoError(t, err)

	assert.Equal(t, "plan the trip", e.Summary)
	assert.Equal(t, []string{"book flights", "reserve hotel"}, e.Bullets)
	assert.Equal(t, []string{"email travel agent"}, e.ActionItems)
	assert.Equal(t, []string{"travel"}, e.Tags)

	require.Len(t, fake.lastParams.Messages, 1)
	assert.Equal(t, anthropic.Model("claude-sonnet-4-5"), fake.lastParams.Model)
}

func TestEnrich_StripsCodeFence(t *testing.T) {
	fake := &fakeMessages{completion: "```json\n{\"summary\": \"fenced\"}\n```"}
	s := newService(fake)

	e, err := s.Enrich(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Equal(t, "fenced", e.Summary)
}

func TestEnrich_RejectsNonJSONCompletion(t *testing.T) {
	fake := &fakeMessages{completion: "Sure! Here is a summary of your note: ..."}
	s := newService(fake)

	_, err := s.Enrich(context.Background(), "whatever")
	assert.ErrorContains(t, err, "malformed enrichment completion")
}

func TestEnrich_PropagatesAPIError(t *testing.T) {
	fake := &fakeMessages{err: errors.New("overloaded")}
	s := newService(fake)

	_, err := s.Enrich(context.Background(), "whatever")
	assert.ErrorContains(t, err, "enrichment request failed")
}

func TestNew_RequiresAPIKey(t *testing.T) {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := New("", "", logger)
	assert.Error(t, err)
}
