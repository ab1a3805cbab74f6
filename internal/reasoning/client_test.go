package reasoning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// fakeModel scripts GenerateContent outcomes per call.
type fakeModel struct {
	responses []string
	errs      []error
	calls     int
	lastMsgs  []llms.MessageContent
}

func (m *fakeModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	i := m.calls
	m.calls++
	m.lastMsgs = msgs
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if i < len(m.responses) {
		text = m.responses[i]
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text}},
	}, nil
}

func (m *fakeModel) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func newFastClient(model llms.Model) *LLMClient {
	// High rate limit keeps tests from sleeping in the limiter.
	return NewClientWithModel(model, Config{RequestsPerSecond: 1000, MaxRetries: 2})
}

func TestLLMClientGenerate(t *testing.T) {
	t.Run("returns first choice content", func(t *testing.T) {
		model := &fakeModel{responses: []string{"an answer"}}
		c := newFastClient(model)

		got, err := c.Generate(context.Background(), "system", "question", 100)
		require.NoError(t, err)
		assert.Equal(t, "an answer", got)
		assert.Equal(t, 1, model.calls)
	})

	t.Run("system context sent as separate message", func(t *testing.T) {
		model := &fakeModel{responses: []string{"ok"}}
		c := newFastClient(model)

		_, err := c.Generate(context.Background(), "be terse", "question", 100)
		require.NoError(t, err)
		require.Len(t, model.lastMsgs, 2)
		assert.Equal(t, schema.ChatMessageTypeSystem, model.lastMsgs[0].Role)
		assert.Equal(t, schema.ChatMessageTypeHuman, model.lastMsgs[1].Role)
	})

	t.Run("empty system context omitted", func(t *testing.T) {
		model := &fakeModel{responses: []string{"ok"}}
		c := newFastClient(model)

		_, err := c.Generate(context.Background(), "", "question", 100)
		require.NoError(t, err)
		require.Len(t, model.lastMsgs, 1)
		assert.Equal(t, schema.ChatMessageTypeHuman, model.lastMsgs[0].Role)
	})

	t.Run("empty prompt rejected", func(t *testing.T) {
		c := newFastClient(&fakeModel{})
		_, err := c.Generate(context.Background(), "", "", 100)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("retries transient failures", func(t *testing.T) {
		model := &fakeModel{
			errs:      []error{errors.New("overloaded"), nil},
			responses: []string{"", "recovered"},
		}
		c := newFastClient(model)

		got, err := c.Generate(context.Background(), "", "question", 100)
		require.NoError(t, err)
		assert.Equal(t, "recovered", got)
		assert.Equal(t, 2, model.calls)
	})

	t.Run("exhausted retries yield ErrUnavailable", func(t *testing.T) {
		boom := errors.New("boom")
		model := &fakeModel{errs: []error{boom, boom, boom}}
		c := newFastClient(model)

		_, err := c.Generate(context.Background(), "", "question", 100)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Equal(t, 3, model.calls)
	})
}

func TestNewClientValidation(t *testing.T) {
	t.Run("missing token", func(t *testing.T) {
		_, err := NewClient(Config{})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := NewClient(Config{Token: "x", Provider: "psychic"})
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}
