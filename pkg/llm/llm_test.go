package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "test-model",
  "choices": [
    {"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hello there"}}
  ]
}`

func TestOpenAIClient_Chat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionBody))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "test-model"})
	resp, err := c.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, &SamplingOptions{Temperature: 0.2, MaxTokens: 64})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, "test-model", body["model"])
	assert.EqualValues(t, 64, body["max_tokens"])
	assert.Len(t, body["messages"], 2)
}

func TestOpenAIClient_NoRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/", Model: "m"})
	_, err := c.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	assert.ErrorIs(t, err, ErrBackend)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIClient_RejectsUnknownRole(t *testing.T) {
	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1/", Model: "m"})
	_, err := c.Chat(context.Background(), []Message{{Role: "tool", Content: "x"}}, nil)
	assert.ErrorIs(t, err, ErrBackend)
}

func TestOutputValidator(t *testing.T) {
	v, err := NewOutputValidator()
	require.NoError(t, err)

	valid := `{"status":"OK","answer":"Paris","confidence":0.9,"needs_escalation":false,
	  "notes":{"reasoning_brief":"capital","assumptions":[],"safe_alternatives":[]}}`

	out, err := v.Parse(valid)
	require.NoError(t, err)
	assert.Equal(t, "Paris", out.Answer)
	assert.True(t, out.Answerable())

	fenced, err := v.Parse("```json\n" + valid + "\n```")
	require.NoError(t, err)
	assert.Equal(t, out, fenced)

	tests := map[string]string{
		"not json":        "Paris is the capital.",
		"bad status":      `{"status":"MAYBE","answer":"","confidence":0.5,"needs_escalation":false,"notes":{"reasoning_brief":"","assumptions":[],"safe_alternatives":[]}}`,
		"confidence high": `{"status":"OK","answer":"x","confidence":1.5,"needs_escalation":false,"notes":{"reasoning_brief":"","assumptions":[],"safe_alternatives":[]}}`,
		"missing notes":   `{"status":"OK","answer":"x","confidence":0.5,"needs_escalation":false}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Parse(raw)
			assert.ErrorIs(t, err, ErrBackend)
		})
	}
}

func TestOutput_Answerable(t *testing.T) {
	assert.True(t, Output{Status: StatusDegraded}.Answerable())
	assert.False(t, Output{Status: StatusRefuse}.Answerable())
	assert.False(t, Output{Status: StatusNoop}.Answerable())
}
