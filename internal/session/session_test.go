package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Warspoot/tlserver/internal/config"
	"github.com/Warspoot/tlserver/internal/translator"
)

type stubTranslator struct {
	activateErr  error
	ready        bool
	canChange    bool
	supported    map[string]string
	translateErr error

	calls       int
	lastHistory []translator.Message
}

func (s *stubTranslator) Activate(context.Context) error {
	if s.activateErr != nil {
		return s.activateErr
	}
	s.ready = true
	return nil
}

func (s *stubTranslator) Ready() bool {
	return s.ready
}

func (s *stubTranslator) Translate(_ context.Context, history []translator.Message, text string) (string, error) {
	s.calls++
	s.lastHistory = append([]translator.Message(nil), history...)
	if s.translateErr != nil {
		return "", s.translateErr
	}
	return "tl:" + text, nil
}

func (s *stubTranslator) TranslateBatch(_ context.Context, history []translator.Message, texts []string) ([]string, error) {
	s.calls++
	s.lastHistory = append([]translator.Message(nil), history...)
	if s.translateErr != nil {
		return nil, s.translateErr
	}
	results := make([]string, len(texts))
	for i, text := range texts {
		results[i] = "tl:" + text
	}
	return results, nil
}

func (s *stubTranslator) SupportedLanguages() map[string]string {
	return s.supported
}

func (s *stubTranslator) CanChangeLanguages() bool {
	return s.canChange
}

func testConfig(contextLines int) *config.TranslatorConfig {
	return &config.TranslatorConfig{
		Kind:           config.KindLLM,
		Enabled:        true,
		InputLanguage:  "Japanese",
		OutputLanguage: "English",
		SystemPrompt:   "Translate {input_language} into {output_language}.",
		ContextLines:   contextLines,
	}
}

func newTestSession(t *testing.T, stub *stubTranslator, cfg *config.TranslatorConfig) *Session {
	t.Helper()
	sess := New(stub, cfg, zerolog.Nop())
	if err := sess.Activate(context.Background()); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	return sess
}

func TestTranslateRecordsHistory(t *testing.T) {
	stub := &stubTranslator{}
	sess := newTestSession(t, stub, testConfig(50))

	result, err := sess.Translate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Translate failed: %v", err)
	}
	if result != "tl:hello" {
		t.Fatalf("result = %q", result)
	}

	history := sess.History()
	want := []translator.Message{
		{Role: translator.RoleSystem, Content: "Translate Japanese into English."},
		{Role: translator.RoleUser, Content: "hello"},
		{Role: translator.RoleAssistant, Content: "tl:hello"},
	}
	if !reflect.DeepEqual(history, want) {
		t.Fatalf("history = %+v", history)
	}

	// The adapter sees the history ending with the pending user entry.
	if len(stub.lastHistory) != 2 || stub.lastHistory[1].Role != translator.RoleUser {
		t.Fatalf("adapter history = %+v", stub.lastHistory)
	}
}

func TestTranslateHistoryStaysBounded(t *testing.T) {
	stub := &stubTranslator{}
	sess := newTestSession(t, stub, testConfig(2))

	for i := 0; i < 3; i++ {
		if _, err := sess.Translate(context.Background(), fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("Translate %d failed: %v", i, err)
		}
	}

	history := sess.History()
	if len(history) != 3 {
		t.Fatalf("history has %d entries, want 3", len(history))
	}
	if history[0].Role != translator.RoleSystem {
		t.Fatalf("first entry role = %q, want system", history[0].Role)
	}
	if history[1].Content != "line 2" || history[2].Content != "tl:line 2" {
		t.Fatalf("oldest turns were not dropped first: %+v", history)
	}
}

func TestTranslateErrorRollsBackHistory(t *testing.T) {
	stub := &stubTranslator{translateErr: errors.New("engine down")}
	sess := newTestSession(t, stub, testConfig(50))

	if _, err := sess.Translate(context.Background(), "hello"); err == nil {
		t.Fatal("Translate should propagate the adapter error")
	}
	if history := sess.History(); len(history) != 1 {
		t.Fatalf("failed call left %d entries, want only the system entry", len(history))
	}
}

func TestTranslateBatch(t *testing.T) {
	stub := &stubTranslator{}
	sess := newTestSession(t, stub, testConfig(50))

	results, err := sess.TranslateBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("TranslateBatch failed: %v", err)
	}
	if !reflect.DeepEqual(results, []string{"tl:a", "tl:b"}) {
		t.Fatalf("results = %v", results)
	}
	if history := sess.History(); len(history) != 5 {
		t.Fatalf("history has %d entries, want system plus two turns", len(history))
	}
}

func TestPausedTranslateReturnsSentinel(t *testing.T) {
	stub := &stubTranslator{}
	sess := newTestSession(t, stub, testConfig(50))

	sess.Pause()

	result, err := sess.Translate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("paused Translate errored: %v", err)
	}
	if result != PausedSentinel {
		t.Fatalf("result = %q, want the paused sentinel", result)
	}

	results, err := sess.TranslateBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("paused TranslateBatch errored: %v", err)
	}
	if !reflect.DeepEqual(results, []string{PausedSentinel}) {
		t.Fatalf("batch results = %v, want single-element sentinel list", results)
	}

	if stub.calls != 0 {
		t.Fatal("paused session must not invoke the adapter")
	}
	if history := sess.History(); len(history) != 1 {
		t.Fatal("paused session must not touch history")
	}

	sess.Resume()
	if _, err := sess.Translate(context.Background(), "hello"); err != nil {
		t.Fatalf("Translate after resume failed: %v", err)
	}
	if stub.calls != 1 {
		t.Fatal("resume should restore translation")
	}
}

func TestChangeLanguageResetsHistory(t *testing.T) {
	stub := &stubTranslator{
		canChange: true,
		supported: map[string]string{"Japanese": "Japanese", "English": "English", "Korean": "Korean"},
	}
	sess := newTestSession(t, stub, testConfig(50))

	if _, err := sess.Translate(context.Background(), "hello"); err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	reply := sess.ChangeOutputLanguage("Korean")
	if reply != "output language changed to Korean" {
		t.Fatalf("reply = %q", reply)
	}
	if sess.OutputLanguage() != "Korean" {
		t.Fatalf("output language = %q", sess.OutputLanguage())
	}

	history := sess.History()
	if len(history) != 1 {
		t.Fatalf("history has %d entries after language change, want 1", len(history))
	}
	if history[0].Content != "Translate Japanese into Korean." {
		t.Fatalf("system entry = %q", history[0].Content)
	}
}

func TestChangeLanguageRejectsUnsupported(t *testing.T) {
	stub := &stubTranslator{
		canChange: true,
		supported: map[string]string{"Japanese": "Japanese", "English": "English"},
	}
	sess := newTestSession(t, stub, testConfig(50))

	reply := sess.ChangeInputLanguage("Klingon")
	if reply != "sorry, translator doesn't have this language" {
		t.Fatalf("reply = %q", reply)
	}
	if sess.InputLanguage() != "Japanese" {
		t.Fatalf("input language changed on rejection: %q", sess.InputLanguage())
	}
}

func TestChangeLanguageRejectedWhenUnsupportedByBackend(t *testing.T) {
	stub := &stubTranslator{
		canChange: false,
		supported: map[string]string{"Japanese": "Japanese", "English": "English"},
	}
	sess := newTestSession(t, stub, testConfig(50))

	reply := sess.ChangeInputLanguage("English")
	if reply != "sorry, this translator can't change languages" {
		t.Fatalf("reply = %q", reply)
	}
}

func TestDictionarySubstitution(t *testing.T) {
	dictPath := filepath.Join(t.TempDir(), "dictionary.json")
	if err := os.WriteFile(dictPath, []byte(`{"勇者": "Hero", "勇者の剣": "Hero's Sword"}`), 0o600); err != nil {
		t.Fatalf("write dictionary: %v", err)
	}

	cfg := testConfig(50)
	cfg.LLM = &config.LLMParams{DictionaryPath: dictPath}

	stub := &stubTranslator{}
	sess := newTestSession(t, stub, cfg)

	if _, err := sess.Translate(context.Background(), "勇者の剣を取れ"); err != nil {
		t.Fatalf("Translate failed: %v", err)
	}

	// Longest term wins; the shorter prefix must not break it apart.
	last := stub.lastHistory[len(stub.lastHistory)-1]
	if last.Content != "Hero's Swordを取れ" {
		t.Fatalf("substituted input = %q", last.Content)
	}
}

func TestActivateFailurePropagates(t *testing.T) {
	stub := &stubTranslator{activateErr: errors.New("model missing")}
	sess := New(stub, testConfig(50), zerolog.Nop())

	if err := sess.Activate(context.Background()); err == nil {
		t.Fatal("Activate should propagate the adapter error")
	}
	if sess.Ready() {
		t.Fatal("failed activation must not report ready")
	}
}

func TestActivateTwiceFails(t *testing.T) {
	stub := &stubTranslator{}
	sess := newTestSession(t, stub, testConfig(50))
	if err := sess.Activate(context.Background()); err == nil {
		t.Fatal("second Activate should fail")
	}
}
