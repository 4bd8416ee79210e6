package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/TurfWatch/internal/config"
)

func TestParseJSONObjectPlain(t *testing.T) {
	result, err := ParseJSONObject(`{"root_cause": "grubs", "weed_percentage": 12}`)
	require.NoError(t, err)
	assert.Equal(t, "grubs", result["root_cause"])
	assert.Equal(t, float64(12), result["weed_percentage"])
}

func TestParseJSONObjectWithCodeFence(t *testing.T) {
	for _, text := range []string{
		"```json\n{\"key\": \"value\"}\n```",
		"```\n{\"key\": \"value\"}\n```",
	} {
		result, err := ParseJSONObject(text)
		require.NoError(t, err, text)
		assert.Equal(t, "value", result["key"])
	}
}

func TestParseJSONObjectSurroundingProse(t *testing.T) {
	result, err := ParseJSONObject("Here is the analysis:\n{\"confidence\": \"high\"}\nHope this helps.")
	require.NoError(t, err)
	assert.Equal(t, "high", result["confidence"])
}

func TestParseJSONObjectInvalid(t *testing.T) {
	for _, text := range []string{"not json at all", "[1, 2, 3]", "null", "{broken"} {
		_, err := ParseJSONObject(text)
		assert.Error(t, err, text)
	}
}

func TestParseJSONObjectEmpty(t *testing.T) {
	_, err := ParseJSONObject("  \n ")
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "json", body["format"])
		msgs, _ := body["messages"].([]any)
		assert.Len(t, msgs, 2, "system and user messages")
		w.Write([]byte(`{"message": {"role": "assistant", "content": "{\"ok\": true}"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL)
	out, err := p.Generate(context.Background(), Request{System: "sys", Prompt: "hi", MaxTokens: 10, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
}

func TestOllamaIsConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models": [{"name": "qwen2.5:7b"}, {"name": "llama3:8b"}]}`))
	}))
	defer srv.Close()

	assert.True(t, NewOllamaProvider("qwen2.5:7b", srv.URL).IsConfigured())
	assert.False(t, NewOllamaProvider("mistral", srv.URL).IsConfigured())
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		rf, _ := body["response_format"].(map[string]any)
		assert.Equal(t, "json_object", rf["type"])
		w.Write([]byte(`{"choices": [{"message": {"content": "{\"root_cause\": \"drought\"}"}}]}`))
	}))
	defer srv.Close()

	t.Setenv("TURFWATCH_TEST_OPENAI", "sk-test")
	p := NewOpenAIProvider("gpt-4o-mini", "TURFWATCH_TEST_OPENAI")
	p.BaseURL = srv.URL
	out, err := p.Generate(context.Background(), Request{Prompt: "hi", MaxTokens: 10, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"root_cause": "drought"}`, out)
}

func TestOpenAIGenerateHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	t.Setenv("TURFWATCH_TEST_OPENAI", "sk-test")
	p := NewOpenAIProvider("gpt-4o-mini", "TURFWATCH_TEST_OPENAI")
	p.BaseURL = srv.URL
	_, err := p.Generate(context.Background(), Request{Prompt: "hi"})
	assert.Error(t, err)
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "claude-3-5-haiku-latest", body["model"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_01", "type": "message", "role": "assistant",
			"model": "claude-3-5-haiku-latest",
			"content": [{"type": "text", "text": "{\"confidence\": \"medium\"}"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 8}
		}`))
	}))
	defer srv.Close()

	t.Setenv("TURFWATCH_TEST_ANTHROPIC", "ak-test")
	p := NewAnthropicProvider("claude-3-5-haiku-latest", "TURFWATCH_TEST_ANTHROPIC",
		option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	out, err := p.Generate(context.Background(), Request{System: "sys", Prompt: "hi", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, `{"confidence": "medium"}`, out)
}

func TestCreateProviderFallsBack(t *testing.T) {
	t.Setenv("TURFWATCH_TEST_OPENAI", "")
	t.Setenv("TURFWATCH_TEST_ANTHROPIC", "ak-test")
	cfg := config.Default().Analysis
	cfg.Provider = "openai"
	cfg.OpenAIKeyEnv = "TURFWATCH_TEST_OPENAI"
	cfg.AnthropicKeyEnv = "TURFWATCH_TEST_ANTHROPIC"

	p, err := CreateProvider(cfg)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicProvider{}, p, "anthropic fallback")
}

func TestCreateProviderMissingCredentials(t *testing.T) {
	t.Setenv("TURFWATCH_TEST_OPENAI", "")
	t.Setenv("TURFWATCH_TEST_ANTHROPIC", "")
	cfg := config.Default().Analysis
	cfg.Provider = "anthropic"
	cfg.OpenAIKeyEnv = "TURFWATCH_TEST_OPENAI"
	cfg.AnthropicKeyEnv = "TURFWATCH_TEST_ANTHROPIC"

	_, err := CreateProvider(cfg)
	assert.ErrorIs(t, err, config.ErrMissingCredentials)
}
