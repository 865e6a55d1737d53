package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Warspoot/tlserver/internal/config"
)

// Offline translates through a local CTranslate2-style inference server.
// The engine process owns the model and the subword tokenizers; this adapter
// only moves sentences and decode options across the wire.
type Offline struct {
	endpoint  string
	params    config.OfflineParams
	supported map[string]string
	logger    zerolog.Logger
	client    *http.Client
	ready     atomic.Bool
}

func NewOffline(cfg *config.TranslatorConfig, logger zerolog.Logger) (*Offline, error) {
	if cfg.Offline == nil {
		return nil, fmt.Errorf("missing Offline settings")
	}
	return &Offline{
		endpoint:  strings.TrimRight(cfg.Offline.EngineEndpoint, "/"),
		params:    *cfg.Offline,
		supported: cfg.SupportedLanguages,
		logger:    logger,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

type engineLoadRequest struct {
	ModelPath          string `json:"model_path"`
	TokSourceModelPath string `json:"tok_source_model_path"`
	TokTargetModelPath string `json:"tok_target_model_path"`
	Device             string `json:"device"`
	IntraThreads       int    `json:"intra_threads"`
	InterThreads       int    `json:"inter_threads"`
}

type engineTranslateRequest struct {
	Texts             []string `json:"texts"`
	BeamSize          int      `json:"beam_size"`
	NumHypotheses     int      `json:"num_hypotheses"`
	DisableUnk        bool     `json:"disable_unk"`
	NoRepeatNgramSize int      `json:"no_repeat_ngram_size"`
}

type engineTranslateResponse struct {
	Translations []string `json:"translations"`
	Error        string   `json:"error,omitempty"`
}

// Activate asks the engine to load the model and blocks until it
// acknowledges. Model loading is the expensive part of startup.
func (t *Offline) Activate(ctx context.Context) error {
	payload := engineLoadRequest{
		ModelPath:          t.params.TranslateModelPath,
		TokSourceModelPath: t.params.TokSourceModelPath,
		TokTargetModelPath: t.params.TokTargetModelPath,
		Device:             t.params.Device,
		IntraThreads:       t.params.IntraThreads,
		InterThreads:       t.params.InterThreads,
	}
	if t.params.GPU {
		payload.Device = "cuda"
	}

	if _, err := t.post(ctx, "/load", payload); err != nil {
		return fmt.Errorf("load offline model: %w", err)
	}

	t.ready.Store(true)

	if phrase := strings.TrimSpace(t.params.InitialPhrase); phrase != "" && !t.params.Silent {
		// Warm-up request; also proves the decode path end to end.
		if _, err := t.translateTexts(ctx, []string{phrase}); err != nil {
			t.logger.Warn().Err(err).Msg("offline warm-up translation failed")
		}
	}

	return nil
}

func (t *Offline) Ready() bool {
	return t.ready.Load()
}

func (t *Offline) CanChangeLanguages() bool {
	return false
}

func (t *Offline) SupportedLanguages() map[string]string {
	return t.supported
}

func (t *Offline) Translate(ctx context.Context, _ []Message, text string) (string, error) {
	results, err := t.translateTexts(ctx, []string{text})
	if err != nil {
		return "", err
	}
	if len(results) != 1 {
		return "", fmt.Errorf("engine returned %d translations for 1 input", len(results))
	}
	return results[0], nil
}

func (t *Offline) TranslateBatch(ctx context.Context, _ []Message, texts []string) ([]string, error) {
	results, err := t.translateTexts(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(results) != len(texts) {
		return nil, fmt.Errorf("engine returned %d translations for %d inputs", len(results), len(texts))
	}
	return results, nil
}

func (t *Offline) translateTexts(ctx context.Context, texts []string) ([]string, error) {
	respBody, err := t.post(ctx, "/translate", engineTranslateRequest{
		Texts:             texts,
		BeamSize:          t.params.BeamSize,
		NumHypotheses:     1,
		DisableUnk:        t.params.DisableUnk,
		NoRepeatNgramSize: t.params.RepetitionPenalty,
	})
	if err != nil {
		return nil, err
	}

	var parsed engineTranslateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("engine error: %s", parsed.Error)
	}
	return parsed.Translations, nil
}

func (t *Offline) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal engine request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send engine request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read engine response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("engine status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
