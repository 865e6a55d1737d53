// Package translator defines the capability contract every backend adapter
// satisfies, plus the adapters for the engines tlserver ships with.
package translator

import "context"

// Message roles used in conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Translator is the capability contract between a session and its backend
// engine. Adapters never mutate the history slice they receive; when an
// adapter needs rolling context it extends a private copy.
type Translator interface {
	// Activate performs possibly expensive engine setup. It is called
	// exactly once per session lifetime; a failing adapter leaves its
	// session unusable.
	Activate(ctx context.Context) error

	// Ready reports whether Activate completed successfully.
	Ready() bool

	// Translate converts one text. The history snapshot ends with the
	// pending user entry for text.
	Translate(ctx context.Context, history []Message, text string) (string, error)

	// TranslateBatch converts texts in order. The history snapshot holds
	// the context preceding the batch; texts are the pending inputs.
	TranslateBatch(ctx context.Context, history []Message, texts []string) ([]string, error)

	// SupportedLanguages maps display names to engine-specific codes.
	SupportedLanguages() map[string]string

	// CanChangeLanguages reports whether the backend accepts language
	// change commands at all.
	CanChangeLanguages() bool
}
