// Package session holds the per-backend mutable state: readiness, pause
// flag, active language pair, bounded conversation history, and the optional
// term dictionary applied to inputs.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Warspoot/tlserver/internal/config"
	"github.com/Warspoot/tlserver/internal/langdetect"
	"github.com/Warspoot/tlserver/internal/translator"
)

// PausedSentinel is returned instead of a translation while paused. It is a
// soft user-facing result, not an error.
const PausedSentinel = "Translation is paused at the moment"

const (
	msgNoSuchLanguage    = "sorry, translator doesn't have this language"
	msgCannotChangeLangs = "sorry, this translator can't change languages"
)

type dictEntry struct {
	from string
	to   string
}

// Session binds one translator adapter to its conversation state. History
// mutation is a single-writer critical section under mu; the paused flag is
// read best-effort without it.
type Session struct {
	tr     translator.Translator
	logger zerolog.Logger

	paused atomic.Bool

	mu             sync.Mutex
	activated      bool
	inputLanguage  string
	outputLanguage string
	history        []translator.Message
	dictionary     []dictEntry
	contextLimit   int
	promptTemplate string
}

// New builds a session for a validated translator config. The history starts
// with the rendered system entry; the dictionary is loaded when the backend
// configures one (failures are logged and ignored).
func New(tr translator.Translator, cfg *config.TranslatorConfig, logger zerolog.Logger) *Session {
	s := &Session{
		tr:             tr,
		logger:         logger,
		inputLanguage:  cfg.InputLanguage,
		outputLanguage: cfg.OutputLanguage,
		contextLimit:   cfg.ContextLines,
		promptTemplate: cfg.SystemPrompt,
	}
	s.history = []translator.Message{s.systemEntry()}

	if cfg.LLM != nil && cfg.LLM.DictionaryPath != "" {
		s.loadDictionary(cfg.LLM.DictionaryPath)
	}

	return s
}

// Activate runs the adapter's setup exactly once. A failed activation leaves
// the session unusable; callers drop it from the dispatch table.
func (s *Session) Activate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activated {
		return fmt.Errorf("session already activated")
	}
	if err := s.tr.Activate(ctx); err != nil {
		return err
	}
	s.activated = true
	return nil
}

// Ready reports whether the backend finished activation.
func (s *Session) Ready() bool {
	return s.tr.Ready()
}

func (s *Session) Pause() {
	s.paused.Store(true)
}

func (s *Session) Resume() {
	s.paused.Store(false)
}

func (s *Session) Paused() bool {
	return s.paused.Load()
}

// Translate runs one text through the backend, recording the exchange in
// history and trimming it to the context window.
func (s *Session) Translate(ctx context.Context, text string) (string, error) {
	if s.paused.Load() {
		return PausedSentinel, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	input := s.applyDictionary(text)
	s.debugInput(text, input)

	s.history = append(s.history, translator.Message{Role: translator.RoleUser, Content: input})
	result, err := s.tr.Translate(ctx, s.history, input)
	if err != nil {
		// Roll the pending user entry back so a failed call does not
		// poison later context.
		s.history = s.history[:len(s.history)-1]
		return "", err
	}
	s.history = append(s.history, translator.Message{Role: translator.RoleAssistant, Content: result})
	s.truncateLocked()

	s.logger.Info().Str("input", text).Str("output", result).Msg("translated")
	return result, nil
}

// TranslateBatch runs texts in order through the backend. While paused it
// returns a single-element sentinel list, matching the legacy protocol.
func (s *Session) TranslateBatch(ctx context.Context, texts []string) ([]string, error) {
	if s.paused.Load() {
		return []string{PausedSentinel}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inputs := make([]string, len(texts))
	for i, text := range texts {
		inputs[i] = s.applyDictionary(text)
		s.debugInput(text, inputs[i])
	}

	snapshot := append(make([]translator.Message, 0, len(s.history)), s.history...)
	results, err := s.tr.TranslateBatch(ctx, snapshot, inputs)
	if err != nil {
		return nil, err
	}
	if len(results) != len(inputs) {
		return nil, fmt.Errorf("backend returned %d translations for %d inputs", len(results), len(inputs))
	}

	for i := range inputs {
		s.history = append(s.history,
			translator.Message{Role: translator.RoleUser, Content: inputs[i]},
			translator.Message{Role: translator.RoleAssistant, Content: results[i]},
		)
	}
	s.truncateLocked()

	for i, text := range texts {
		s.logger.Info().Str("input", text).Str("output", results[i]).Msg("translated")
	}
	return results, nil
}

// ChangeInputLanguage switches the source language. The result is a soft
// user-facing string for both success and rejection.
func (s *Session) ChangeInputLanguage(language string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.checkLanguageLocked(language); !ok {
		return msg
	}
	s.inputLanguage = language
	s.resetHistoryLocked()
	return fmt.Sprintf("input language changed to %s", language)
}

// ChangeOutputLanguage switches the target language.
func (s *Session) ChangeOutputLanguage(language string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg, ok := s.checkLanguageLocked(language); !ok {
		return msg
	}
	s.outputLanguage = language
	s.resetHistoryLocked()
	return fmt.Sprintf("output language changed to %s", language)
}

func (s *Session) checkLanguageLocked(language string) (string, bool) {
	if !s.tr.CanChangeLanguages() {
		return msgCannotChangeLangs, false
	}
	if _, ok := s.tr.SupportedLanguages()[language]; !ok {
		return msgNoSuchLanguage, false
	}
	return "", true
}

// InputLanguage returns the active source language.
func (s *Session) InputLanguage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputLanguage
}

// OutputLanguage returns the active target language.
func (s *Session) OutputLanguage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputLanguage
}

// History returns a copy of the conversation history.
func (s *Session) History() []translator.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(make([]translator.Message, 0, len(s.history)), s.history...)
}

// resetHistoryLocked replaces the history with one freshly rendered system
// entry; a language change starts the conversation over.
func (s *Session) resetHistoryLocked() {
	s.history = []translator.Message{s.systemEntry()}
}

// truncateLocked keeps the system entry plus the most recent contextLimit
// entries; the system entry is never dropped.
func (s *Session) truncateLocked() {
	if len(s.history) <= s.contextLimit+1 {
		return
	}
	tail := s.history[len(s.history)-s.contextLimit:]
	kept := make([]translator.Message, 0, 1+len(tail))
	kept = append(kept, s.history[0])
	kept = append(kept, tail...)
	s.history = kept
}

// systemEntry renders the prompt template for the active language pair.
// Only placeholders the template actually references are substituted.
func (s *Session) systemEntry() translator.Message {
	prompt := strings.ReplaceAll(s.promptTemplate, "{input_language}", s.inputLanguage)
	prompt = strings.ReplaceAll(prompt, "{output_language}", s.outputLanguage)
	return translator.Message{Role: translator.RoleSystem, Content: prompt}
}

func (s *Session) applyDictionary(text string) string {
	for _, entry := range s.dictionary {
		text = strings.ReplaceAll(text, entry.from, entry.to)
	}
	return text
}

// loadDictionary reads the optional source-term to target-term mapping.
// Longer terms substitute first so they are not shadowed by their prefixes.
func (s *Session) loadDictionary(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", path).Msg("dictionary failed to load")
		}
		return
	}

	var terms map[string]string
	if err := json.Unmarshal(raw, &terms); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("dictionary failed to load")
		return
	}

	s.dictionary = make([]dictEntry, 0, len(terms))
	for from, to := range terms {
		s.dictionary = append(s.dictionary, dictEntry{from: from, to: to})
	}
	sort.Slice(s.dictionary, func(i, j int) bool {
		if len(s.dictionary[i].from) != len(s.dictionary[j].from) {
			return len(s.dictionary[i].from) > len(s.dictionary[j].from)
		}
		return s.dictionary[i].from < s.dictionary[j].from
	})

	s.logger.Info().Int("terms", len(terms)).Str("path", path).Msg("dictionary loaded")
}

func (s *Session) debugInput(original, processed string) {
	event := s.logger.Debug()
	if !event.Enabled() {
		return
	}
	event.
		Str("original", original).
		Str("processed", processed).
		Str("detected_language", langdetect.DetectISO6391(original)).
		Msg("processing input")
}
