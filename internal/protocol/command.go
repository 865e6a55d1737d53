// Package protocol defines the JSON command envelope shared by every
// translator endpoint.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Command enumerates the wire-level message kinds.
type Command string

const (
	CommandClose          Command = "close server"
	CommandReady          Command = "check if server is ready"
	CommandTranslate      Command = "translate sentences"
	CommandTranslateBatch Command = "translate batch"
	CommandChangeInput    Command = "change input language"
	CommandChangeOutput   Command = "change output language"
	CommandPause          Command = "pause"
	CommandResume         Command = "resume"
)

var commands = map[Command]struct{}{
	CommandClose:          {},
	CommandReady:          {},
	CommandTranslate:      {},
	CommandTranslateBatch: {},
	CommandChangeInput:    {},
	CommandChangeOutput:   {},
	CommandPause:          {},
	CommandResume:         {},
}

// ParseCommand maps a wire message string onto the closed command set.
func ParseCommand(raw string) (Command, bool) {
	cmd := Command(raw)
	_, ok := commands[cmd]
	return cmd, ok
}

// EnvelopeError reports a malformed command envelope. It is caller-facing
// and maps to an HTTP 400.
type EnvelopeError struct {
	Reason string
}

func (e *EnvelopeError) Error() string {
	return e.Reason
}

func envelopeErrorf(format string, args ...any) *EnvelopeError {
	return &EnvelopeError{Reason: fmt.Sprintf(format, args...)}
}

// Envelope is one parsed command. Text is set for single-string content,
// Texts for batch content.
type Envelope struct {
	Message Command
	Text    string
	Texts   []string

	// Coerced marks a legacy "translate sentences" request whose list
	// content was reinterpreted as "translate batch".
	Coerced bool
}

type rawEnvelope struct {
	Message *string         `json:"message"`
	Content json.RawMessage `json:"content"`
}

// DecodeEnvelope parses and validates one request body. The legacy
// compatibility rule applies: a "translate sentences" request carrying a
// list of strings becomes "translate batch".
func DecodeEnvelope(body []byte) (*Envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, envelopeErrorf("request body is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.DisallowUnknownFields()

	var raw rawEnvelope
	if err := decoder.Decode(&raw); err != nil {
		return nil, envelopeErrorf("invalid JSON body: %v", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, envelopeErrorf("request body contains trailing content")
	}

	if raw.Message == nil {
		return nil, envelopeErrorf("message is required")
	}
	cmd, ok := ParseCommand(*raw.Message)
	if !ok {
		return nil, envelopeErrorf("unknown message %q", *raw.Message)
	}

	env := &Envelope{Message: cmd}
	switch cmd {
	case CommandTranslate:
		if text, ok := decodeString(raw.Content); ok {
			env.Text = text
			return env, nil
		}
		// Legacy clients send a list under "translate sentences".
		if texts, ok := decodeStringList(raw.Content); ok {
			env.Message = CommandTranslateBatch
			env.Texts = texts
			env.Coerced = true
			return env, nil
		}
		return nil, envelopeErrorf("`%s` content must be a string", cmd)

	case CommandTranslateBatch:
		texts, ok := decodeStringList(raw.Content)
		if !ok {
			return nil, envelopeErrorf("`%s` content must be a list of strings", cmd)
		}
		env.Texts = texts
		return env, nil

	case CommandChangeInput, CommandChangeOutput:
		text, ok := decodeString(raw.Content)
		if !ok {
			return nil, envelopeErrorf("`%s` content must be a string", cmd)
		}
		env.Text = text
		return env, nil

	default:
		if !contentIsEmpty(raw.Content) {
			return nil, envelopeErrorf("`%s` must not provide content", cmd)
		}
		return env, nil
	}
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}

func decodeStringList(raw json.RawMessage) ([]string, bool) {
	var list []string
	if len(raw) == 0 || json.Unmarshal(raw, &list) != nil {
		return nil, false
	}
	if list == nil {
		list = []string{}
	}
	return list, true
}

// contentIsEmpty accepts absent, null, and {} content for commands that
// carry none, matching what legacy clients actually send.
func contentIsEmpty(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	switch string(trimmed) {
	case "null", "{}":
		return true
	}
	return false
}
