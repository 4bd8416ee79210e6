// Package llm talks to the diagnosis service: a local Ollama model, the
// OpenAI chat API or the Anthropic messages API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/TobiSchelling/TurfWatch/internal/config"
)

const temperature = 0.3

// Request is one diagnosis call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int
	// JSON asks the backend to constrain its output to a JSON object when it
	// supports doing so.
	JSON bool
}

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, req Request) (string, error)
	IsConfigured() bool
	Name() string
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OllamaProvider) Name() string { return "ollama/" + o.Model }

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range tags.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	log.Printf("Ollama model %q not found", o.Model)
	return false
}

// Generate sends the request to Ollama's chat endpoint.
func (o *OllamaProvider) Generate(ctx context.Context, r Request) (string, error) {
	body := map[string]any{
		"model":    o.Model,
		"messages": chatMessages(r),
		"stream":   false,
		"options": map[string]any{
			"num_predict": r.MaxTokens,
			"temperature": temperature,
		},
	}
	if r.JSON {
		body["format"] = "json"
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, o.BaseURL+"/api/chat", "", body, &result); err != nil {
		return "", fmt.Errorf("ollama: %w", err)
	}
	return result.Message.Content, nil
}

const defaultOpenAIURL = "https://api.openai.com/v1"

// OpenAIProvider is an OpenAI API provider.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider reading its key from
// apiKeyEnv.
func NewOpenAIProvider(model, apiKeyEnv string) *OpenAIProvider {
	return &OpenAIProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: defaultOpenAIURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OpenAIProvider) Name() string { return "openai/" + o.Model }

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends the request to the chat completions endpoint.
func (o *OpenAIProvider) Generate(ctx context.Context, r Request) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	body := map[string]any{
		"model":       o.Model,
		"messages":    chatMessages(r),
		"max_tokens":  r.MaxTokens,
		"temperature": temperature,
	}
	if r.JSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := postJSON(ctx, o.client, strings.TrimRight(o.BaseURL, "/")+"/chat/completions", o.APIKey, body, &result); err != nil {
		return "", fmt.Errorf("OpenAI: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no choices in OpenAI response")
	}
	return result.Choices[0].Message.Content, nil
}

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	Model  string
	apiKey string
	client anthropic.Client
}

// NewAnthropicProvider creates a provider reading its key from apiKeyEnv.
// Extra request options are applied to every call.
func NewAnthropicProvider(model, apiKeyEnv string, opts ...option.RequestOption) *AnthropicProvider {
	key := os.Getenv(apiKeyEnv)
	opts = append([]option.RequestOption{option.WithAPIKey(key)}, opts...)
	return &AnthropicProvider{
		Model:  model,
		apiKey: key,
		client: anthropic.NewClient(opts...),
	}
}

func (a *AnthropicProvider) Name() string { return "anthropic/" + a.Model }

// IsConfigured checks if the API key is set.
func (a *AnthropicProvider) IsConfigured() bool {
	return a.apiKey != ""
}

// Generate sends the request and returns the first text block of the reply.
func (a *AnthropicProvider) Generate(ctx context.Context, r Request) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.Model),
		MaxTokens:   int64(r.MaxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(r.Prompt)),
		},
	}
	if r.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: r.System}}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("no text content in Anthropic response")
}

func chatMessages(r Request) []map[string]string {
	var msgs []map[string]string
	if r.System != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": r.System})
	}
	return append(msgs, map[string]string{"role": "user", "content": r.Prompt})
}

func postJSON(ctx context.Context, client *http.Client, url, bearer string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// CreateProvider picks the configured provider, falling back to any other
// provider that has credentials. It fails with config.ErrMissingCredentials
// when none is usable.
func CreateProvider(cfg config.Analysis) (Provider, error) {
	ollama := func() Provider { return NewOllamaProvider(cfg.Model, cfg.OllamaURL) }
	openai := func() Provider { return NewOpenAIProvider(cfg.OpenAIModel, cfg.OpenAIKeyEnv) }
	claude := func() Provider { return NewAnthropicProvider(cfg.AnthropicModel, cfg.AnthropicKeyEnv) }

	var order []func() Provider
	switch strings.ToLower(cfg.Provider) {
	case "ollama":
		order = append(order, ollama, openai, claude)
	case "anthropic":
		order = append(order, claude, openai)
	default:
		order = append(order, openai, claude)
	}

	for i, build := range order {
		p := build()
		if p.IsConfigured() {
			if i > 0 {
				log.Printf("Provider %q not available, falling back to %s", cfg.Provider, p.Name())
			}
			log.Printf("Using %s", p.Name())
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no diagnosis provider available (start Ollama or set %s or %s)",
		config.ErrMissingCredentials, cfg.OpenAIKeyEnv, cfg.AnthropicKeyEnv)
}
