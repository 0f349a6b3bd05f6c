package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/prepx/internal/ratelimit"
)

type recordingAgent struct {
	mu    sync.Mutex
	calls []time.Time
	reqs  []Request
}

func (a *recordingAgent) Complete(_ context.Context, req Request) (*Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, time.Now())
	a.reqs = append(a.reqs, req)
	return &Response{Text: "{}"}, nil
}

func TestGate_DelegatesAfterAcquire(t *testing.T) {
	inner := &recordingAgent{}
	g := Gate(inner, ratelimit.New(20*time.Millisecond))

	for i := 0; i < 3; i++ {
		resp, err := g.Complete(context.Background(), Request{Label: "test", Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "{}", resp.Text)
	}

	require.Len(t, inner.calls, 3)
	assert.GreaterOrEqual(t, inner.calls[2].Sub(inner.calls[0]), 35*time.Millisecond)
	assert.Equal(t, "test", inner.reqs[0].Label)
}

func TestGate_CancelledContextSkipsCall(t *testing.T) {
	inner := &recordingAgent{}
	l := ratelimit.New(time.Hour)
	require.NoError(t, l.Acquire(context.Background()))
	g := Gate(inner, l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Complete(ctx, Request{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, inner.calls)
}

func TestUnconfigured(t *testing.T) {
	_, err := Unconfigured{}.Complete(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	transient := NewTransientError(base)
	assert.True(t, IsTransient(transient))
	assert.False(t, IsFatal(transient))
	assert.ErrorIs(t, transient, base)

	fatal := NewFatalError(base)
	assert.True(t, IsFatal(fatal))
	assert.False(t, IsTransient(fatal))
	assert.Equal(t, "boom", fatal.Error())
}

func TestClassify_NonAPIErrors(t *testing.T) {
	assert.ErrorIs(t, classify(context.Canceled), context.Canceled)
	assert.False(t, IsTransient(classify(context.Canceled)))
	assert.True(t, IsTransient(classify(errors.New("connection reset"))))
}

func TestNewClient(t *testing.T) {
	c := NewClient("sk-test", "claude-haiku-4-5-20251001")
	require.NotNil(t, c)
	assert.Equal(t, "claude-haiku-4-5-20251001", string(c.model))
}

func messagesServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Complete(t *testing.T) {
	srv := messagesServer(t, `{"id":"msg_1","type":"message","role":"assistant","model":"test",
		"content":[{"type":"text","text":"{\"ok\":true}"}],
		"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":4}}`)

	c := NewClient("test-key", "test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	resp, err := c.Complete(context.Background(), Request{Label: "syllabus", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Text)
	assert.Equal(t, int64(12), resp.InputTokens)
	assert.Equal(t, int64(4), resp.OutputTokens)
}

func TestClient_Complete_NoTextIsNotAnError(t *testing.T) {
	srv := messagesServer(t, `{"id":"msg_1","type":"message","role":"assistant","model":"test",
		"content":[],"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":12,"output_tokens":0}}`)

	c := NewClient("test-key", "test", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	resp, err := c.Complete(context.Background(), Request{Label: "syllabus", Prompt: "hi"})
	require.NoError(t, err)
	assert.Empty(t, resp.Text)
}
