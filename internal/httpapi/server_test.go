package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Warspoot/tlserver/internal/config"
	"github.com/Warspoot/tlserver/internal/dispatch"
	"github.com/Warspoot/tlserver/internal/session"
	"github.com/Warspoot/tlserver/internal/translator"
)

type stubTranslator struct {
	ready bool
}

func (s *stubTranslator) Activate(context.Context) error {
	s.ready = true
	return nil
}

func (s *stubTranslator) Ready() bool {
	return s.ready
}

func (s *stubTranslator) Translate(_ context.Context, _ []translator.Message, text string) (string, error) {
	return "tl:" + text, nil
}

func (s *stubTranslator) TranslateBatch(_ context.Context, _ []translator.Message, texts []string) ([]string, error) {
	results := make([]string, len(texts))
	for i, text := range texts {
		results[i] = "tl:" + text
	}
	return results, nil
}

func (s *stubTranslator) SupportedLanguages() map[string]string {
	return map[string]string{"Japanese": "Japanese", "English": "English"}
}

func (s *stubTranslator) CanChangeLanguages() bool {
	return true
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.TranslatorConfig{
		Kind:           config.KindLLM,
		Enabled:        true,
		InputLanguage:  "Japanese",
		OutputLanguage: "English",
		SystemPrompt:   "Translate {input_language} into {output_language}.",
		ContextLines:   50,
	}

	sess := session.New(&stubTranslator{}, cfg, zerolog.Nop())
	if err := sess.Activate(context.Background()); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	registry := dispatch.New()
	registry.RegisterPort(14368, sess)
	registry.RegisterPath("llm", sess)

	return NewServer(registry, zerolog.Nop(), Options{RootPort: 9000})
}

func doRequest(handler http.Handler, port int, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(context.WithValue(req.Context(), portKey{}, port))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestUnboundPortReturns404(t *testing.T) {
	handler := newTestServer(t).Handler()

	rec := doRequest(handler, 9999, "/", `{"message": "check if server is ready"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec.Body.String() != "No plugin for port 9999\n" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestUnboundPathReturns404(t *testing.T) {
	handler := newTestServer(t).Handler()

	rec := doRequest(handler, 9000, "/nope", `{"message": "check if server is ready"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if rec.Body.String() != "No plugin for path /nope\n" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestReadyCheck(t *testing.T) {
	handler := newTestServer(t).Handler()

	for _, target := range []struct {
		port int
		path string
	}{
		{14368, "/"},
		{9000, "/llm"},
	} {
		rec := doRequest(handler, target.port, target.path, `{"message": "check if server is ready"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d for %+v", rec.Code, target)
		}
		if strings.TrimSpace(rec.Body.String()) != "true" {
			t.Fatalf("body = %q for %+v", rec.Body.String(), target)
		}
	}
}

func TestTranslateByPort(t *testing.T) {
	handler := newTestServer(t).Handler()

	rec := doRequest(handler, 14368, "/", `{"message": "translate sentences", "content": "hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var result string
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("response is not a JSON string: %v", err)
	}
	if result != "tl:hello" {
		t.Fatalf("result = %q", result)
	}
}

func TestTranslateListProducesListResult(t *testing.T) {
	handler := newTestServer(t).Handler()

	rec := doRequest(handler, 9000, "/llm", `{"message": "translate sentences", "content": ["a", "b"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var results []string
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("response is not a JSON list: %v", err)
	}
	if !reflect.DeepEqual(results, []string{"tl:a", "tl:b"}) {
		t.Fatalf("results = %v", results)
	}
}

func TestMalformedEnvelopeReturns400(t *testing.T) {
	handler := newTestServer(t).Handler()

	rec := doRequest(handler, 14368, "/", `{"message": "reboot"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("error response is not JSON: %v", err)
	}
	if payload["error"] == "" {
		t.Fatalf("error field missing: %s", rec.Body.String())
	}
}

func TestPauseAndResume(t *testing.T) {
	handler := newTestServer(t).Handler()

	rec := doRequest(handler, 14368, "/", `{"message": "pause"}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "null" {
		t.Fatalf("pause response: %d %q", rec.Code, rec.Body.String())
	}

	rec = doRequest(handler, 14368, "/", `{"message": "translate sentences", "content": "hi"}`)
	var result string
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("paused translate response: %v", err)
	}
	if result != session.PausedSentinel {
		t.Fatalf("result = %q, want the paused sentinel", result)
	}

	rec = doRequest(handler, 14368, "/", `{"message": "resume"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}

	rec = doRequest(handler, 14368, "/", `{"message": "translate sentences", "content": "hi"}`)
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil || result != "tl:hi" {
		t.Fatalf("translate after resume = %q (%v)", result, err)
	}
}

func TestCloseSemantics(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	// Legacy port addressing: close is a per-session no-op.
	rec := doRequest(handler, 14368, "/", `{"message": "close server"}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "null" {
		t.Fatalf("port close response: %d %q", rec.Code, rec.Body.String())
	}
	select {
	case <-srv.closed:
		t.Fatal("close on a legacy port must not shut the server down")
	default:
	}

	// Path addressing: close shuts the whole process down.
	rec = doRequest(handler, 9000, "/llm", `{"message": "close server"}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "null" {
		t.Fatalf("path close response: %d %q", rec.Code, rec.Body.String())
	}
	select {
	case <-srv.closed:
	default:
		t.Fatal("close on a path must signal shutdown")
	}
}

func TestChangeLanguageOverHTTP(t *testing.T) {
	handler := newTestServer(t).Handler()

	rec := doRequest(handler, 14368, "/", `{"message": "change output language", "content": "Japanese"}`)
	var result string
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("change language response: %v", err)
	}
	if result != "output language changed to Japanese" {
		t.Fatalf("result = %q", result)
	}
}
