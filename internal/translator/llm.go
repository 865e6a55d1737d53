package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Warspoot/tlserver/internal/config"
)

// LLM translates by calling an OpenAI-compatible chat completions endpoint,
// carrying the session's conversation history as the message list.
type LLM struct {
	endpointURL string
	modelName   string
	apiKey      config.Secret
	temperature float64
	topP        float64
	supported   map[string]string
	logger      zerolog.Logger
	client      *http.Client
	ready       atomic.Bool
}

func NewLLM(cfg *config.TranslatorConfig, logger zerolog.Logger) (*LLM, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("missing LLM settings")
	}
	return &LLM{
		endpointURL: chatCompletionsURL(cfg.LLM.APIServer),
		modelName:   cfg.LLM.ModelName,
		apiKey:      cfg.LLM.APIKey,
		temperature: cfg.LLM.Temperature,
		topP:        cfg.LLM.TopP,
		supported:   cfg.SupportedLanguages,
		logger:      logger,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

// Activate marks the adapter ready. The remote endpoint is contacted lazily
// on the first translation, so a cold API server does not block startup.
func (t *LLM) Activate(_ context.Context) error {
	t.ready.Store(true)
	return nil
}

func (t *LLM) Ready() bool {
	return t.ready.Load()
}

func (t *LLM) CanChangeLanguages() bool {
	return true
}

func (t *LLM) SupportedLanguages() map[string]string {
	return t.supported
}

func (t *LLM) Translate(ctx context.Context, history []Message, _ string) (string, error) {
	return t.complete(ctx, history)
}

func (t *LLM) TranslateBatch(ctx context.Context, history []Message, texts []string) ([]string, error) {
	// Each item sees the items before it, like an interactive session.
	local := append(make([]Message, 0, len(history)+2*len(texts)), history...)

	results := make([]string, 0, len(texts))
	for _, text := range texts {
		local = append(local, Message{Role: RoleUser, Content: text})
		result, err := t.complete(ctx, local)
		if err != nil {
			return nil, err
		}
		local = append(local, Message{Role: RoleAssistant, Content: result})
		results = append(results, result)
	}
	return results, nil
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (t *LLM) complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       t.modelName,
		Messages:    messages,
		Temperature: t.temperature,
		TopP:        t.topP,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := t.apiKey.Value(); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send completion request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload chatErrorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil {
			if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
				return "", fmt.Errorf("completion endpoint status %d: %s", resp.StatusCode, msg)
			}
		}
		return "", fmt.Errorf("completion endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response missing choices")
	}

	return parsed.Choices[0].Message.Content, nil
}

// chatCompletionsURL appends the chat completions path to a base endpoint
// unless the endpoint already targets it.
func chatCompletionsURL(endpoint string) string {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed != "" && !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return "http://127.0.0.1:1234/v1/chat/completions"
	}

	path := strings.TrimRight(parsed.Path, "/")
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		parsed.Path = path
	case strings.HasSuffix(path, "/v1"):
		parsed.Path = path + "/chat/completions"
	case path == "":
		parsed.Path = "/v1/chat/completions"
	default:
		parsed.Path = path + "/v1/chat/completions"
	}

	return parsed.String()
}
