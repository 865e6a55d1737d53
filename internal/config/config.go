package config

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates translator backend configurations.
type Kind string

const (
	KindOffline Kind = "Offline"
	KindGoogle  Kind = "Google"
	KindLLM     Kind = "LLM"
	KindDeepL   Kind = "DeepL"
)

// Secret is a string that redacts itself when printed or serialized.
type Secret string

const secretMask = "**********"

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return secretMask
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Value returns the underlying secret.
func (s Secret) Value() string {
	return string(s)
}

// AppConfig is the validated top-level configuration. It is immutable after
// Load; downstream components trust it without re-checking invariants.
type AppConfig struct {
	Debug bool `json:"debug"`

	// RootPort is the shared port for path-addressed translators. Legacy
	// port-addressed translators are unaffected by it.
	RootPort int `json:"root_port"`

	Translators []TranslatorConfig `json:"translators"`
}

// TranslatorConfig is one backend configuration, discriminated by Kind.
// Exactly one of the per-kind params pointers is non-nil.
type TranslatorConfig struct {
	Kind    Kind    `json:"kind"`
	Enabled bool    `json:"enabled"`
	Port    *int    `json:"port"`
	Path    *string `json:"path"`

	InputLanguage  string `json:"input_language"`
	OutputLanguage string `json:"output_language"`

	// SupportedLanguages maps display names to engine-specific codes.
	SupportedLanguages map[string]string `json:"supported_languages"`

	// SystemPrompt is a template; {input_language} and {output_language}
	// placeholders are substituted when present.
	SystemPrompt string `json:"system_prompt"`

	// ContextLines bounds the conversational history kept after the
	// system entry.
	ContextLines int `json:"context_lines"`

	Offline *OfflineParams `json:"-"`
	Google  *GoogleParams  `json:"-"`
	LLM     *LLMParams     `json:"-"`
	DeepL   *DeepLParams   `json:"-"`
}

// HasPort reports whether the translator participates in legacy port-based
// dispatch.
func (tc *TranslatorConfig) HasPort() bool {
	return tc.Port != nil
}

// HasPath reports whether the translator participates in path-based dispatch
// under the root port.
func (tc *TranslatorConfig) HasPath() bool {
	return tc.Path != nil
}

// OfflineParams configures the offline neural MT backend. The engine itself
// runs as a separate local inference server.
type OfflineParams struct {
	InitialPhrase      string `json:"initial_phrase"`
	GPU                bool   `json:"gpu"`
	Device             string `json:"device"`
	IntraThreads       int    `json:"intra_threads"`
	InterThreads       int    `json:"inter_threads"`
	BeamSize           int    `json:"beam_size"`
	RepetitionPenalty  int    `json:"repetition_penalty"`
	Silent             bool   `json:"silent"`
	DisableUnk         bool   `json:"disable_unk"`
	TranslateModelPath string `json:"translate_model_path"`
	TokSourceModelPath string `json:"tok_source_model_path"`
	TokTargetModelPath string `json:"tok_target_model_path"`
	EngineEndpoint     string `json:"engine_endpoint"`
}

// GoogleParams has no backend-specific settings yet; the kind is accepted so
// existing config files keep loading even though no session is built for it.
type GoogleParams struct{}

// LLMParams configures the chat-completion backend.
type LLMParams struct {
	IsLocal        bool    `json:"is_local"`
	ModelName      string  `json:"model_name"`
	APIServer      string  `json:"api_server"`
	APIKey         Secret  `json:"api_key"`
	Temperature    float64 `json:"temperature"`
	TopP           float64 `json:"top_p"`
	DictionaryPath string  `json:"dictionary_path"`
}

// DeepLParams configures the browser-automation backend.
type DeepLParams struct {
	HideBrowserWindow        bool   `json:"hide_browser_window"`
	DefaultNavigationTimeout int    `json:"default_navigation_timeout"`
	WebsiteURL               string `json:"website_url"`
	LanguageSeparator        string `json:"language_separator"`
	InputTextSeparator       string `json:"input_text_separator"`
	InputTextboxID           string `json:"input_textbox_id"`
	ResultTextboxID          string `json:"result_textbox_id"`
	InitialPhrase            string `json:"initial_phrase"`
}

func intPtr(v int) *int { return &v }

const defaultLLMSystemPrompt = "You are a professional translator whose primary goal is to " +
	"precisely translate {input_language} to {output_language}. " +
	"You can speak colloquially if it makes the translation more accurate. " +
	"Only respond in {output_language}. " +
	"If you are unsure of a {input_language} sentence, still always try your best " +
	"estimate to respond with a complete {output_language} translation."

func defaultsFor(kind Kind) (TranslatorConfig, error) {
	base := TranslatorConfig{
		Kind:           kind,
		Enabled:        true,
		InputLanguage:  "Japanese",
		OutputLanguage: "English",
		SystemPrompt:   "Translate {input_language} into {output_language}.",
	}

	switch kind {
	case KindOffline:
		base.Port = intPtr(14366)
		base.SupportedLanguages = map[string]string{
			"English":  "English",
			"Japanese": "Japanese",
		}
		base.Offline = &OfflineParams{
			InitialPhrase:      "お疲れさまでした",
			Device:             "cpu",
			InterThreads:       4,
			BeamSize:           5,
			RepetitionPenalty:  3,
			DisableUnk:         true,
			TranslateModelPath: "./assets/models/translate/",
			TokSourceModelPath: "./assets/models/tokenise/spm.ja.nopretok.model",
			TokTargetModelPath: "./assets/models/tokenise/spm.en.nopretok.model",
			EngineEndpoint:     "http://127.0.0.1:14466",
		}
	case KindGoogle:
		base.Port = intPtr(14367)
		base.SupportedLanguages = map[string]string{
			"English":    "en",
			"Chinese":    "zh-CN",
			"Japanese":   "ja",
			"Korean":     "ko",
			"Spanish":    "es",
			"French":     "fr",
			"Portuguese": "pt",
			"Vietnamese": "vi",
			"Indonesian": "id",
			"Arabic":     "ar",
			"Thai":       "th",
			"Turkish":    "tr",
		}
		base.Google = &GoogleParams{}
	case KindLLM:
		base.Port = intPtr(14368)
		base.SupportedLanguages = map[string]string{
			"English":    "English",
			"Chinese":    "Simplified Chinese",
			"Japanese":   "Japanese",
			"Korean":     "Korean",
			"Spanish":    "Spanish",
			"Portuguese": "Brazilian Portuguese",
			"Vietnamese": "Vietnamese",
			"Indonesian": "Indonesian",
			"Arabic":     "Arabic",
			"German":     "German",
		}
		base.SystemPrompt = defaultLLMSystemPrompt
		base.ContextLines = 50
		base.LLM = &LLMParams{
			IsLocal:        true,
			ModelName:      "lm_studio/sugoi14b",
			APIServer:      "http://127.0.0.1:1234/v1",
			APIKey:         "sk-fakefakefake",
			Temperature:    0.4,
			TopP:           0.95,
			DictionaryPath: "dictionary.json",
		}
	case KindDeepL:
		base.Port = intPtr(14369)
		base.SupportedLanguages = map[string]string{
			"English":    "en-us",
			"Chinese":    "zh",
			"Japanese":   "ja",
			"Korean":     "ko",
			"Spanish":    "es",
			"French":     "fr",
			"Portuguese": "pt-br",
			"Indonesian": "id",
			"Arabic":     "ar",
			"Turkish":    "tr",
		}
		base.DeepL = &DeepLParams{
			HideBrowserWindow:        true,
			DefaultNavigationTimeout: 30000,
			WebsiteURL:               "https://www.deepl.com/en/translator#",
			LanguageSeparator:        "/",
			InputTextSeparator:       "/",
			InputTextboxID:           "[data-testid=translator-source-input]",
			ResultTextboxID:          "[data-testid=translator-target-input]",
			InitialPhrase:            "Deepl",
		}
	default:
		return TranslatorConfig{}, fmt.Errorf("unknown translator kind %q", string(kind))
	}

	return base, nil
}

// MarshalJSON flattens the kind-specific params back into the object so the
// resolved configuration serializes in the same shape it was loaded from.
// Secret fields stay redacted.
func (tc TranslatorConfig) MarshalJSON() ([]byte, error) {
	type plain TranslatorConfig
	base, err := json.Marshal(plain(tc))
	if err != nil {
		return nil, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}

	var params []byte
	switch {
	case tc.Offline != nil:
		params, err = json.Marshal(tc.Offline)
	case tc.Google != nil:
		params, err = json.Marshal(tc.Google)
	case tc.LLM != nil:
		params, err = json.Marshal(tc.LLM)
	case tc.DeepL != nil:
		params, err = json.Marshal(tc.DeepL)
	}
	if err != nil {
		return nil, err
	}
	if params != nil {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(params, &fields); err != nil {
			return nil, err
		}
		for name, value := range fields {
			merged[name] = value
		}
	}

	return json.Marshal(merged)
}

// UnmarshalJSON decodes one translator object, applying the kind's defaults
// first so absent fields keep them while an explicit null clears port/path.
func (tc *TranslatorConfig) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var kind Kind
	if rawKind, ok := raw["kind"]; ok {
		if err := json.Unmarshal(rawKind, &kind); err != nil {
			return fmt.Errorf("decode translator kind: %w", err)
		}
	}

	defaults, err := defaultsFor(kind)
	if err != nil {
		return err
	}
	*tc = defaults

	// A provided supported_languages map replaces the default set instead of
	// merging into it.
	if _, ok := raw["supported_languages"]; ok {
		tc.SupportedLanguages = nil
	}

	type plain TranslatorConfig
	if err := json.Unmarshal(data, (*plain)(tc)); err != nil {
		return err
	}

	switch kind {
	case KindOffline:
		err = json.Unmarshal(data, tc.Offline)
	case KindGoogle:
		err = json.Unmarshal(data, tc.Google)
	case KindLLM:
		err = json.Unmarshal(data, tc.LLM)
	case KindDeepL:
		err = json.Unmarshal(data, tc.DeepL)
	}
	if err != nil {
		return fmt.Errorf("decode %s translator settings: %w", string(kind), err)
	}

	return nil
}
