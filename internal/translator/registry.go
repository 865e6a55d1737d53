package translator

import (
	"github.com/rs/zerolog"

	"github.com/Warspoot/tlserver/internal/config"
)

// Constructor builds one adapter from its validated config.
type Constructor func(cfg *config.TranslatorConfig, logger zerolog.Logger) (Translator, error)

// Constructors is the closed kind-to-constructor table. Kinds mapped to nil
// are accepted by the config schema but produce no session.
func Constructors() map[config.Kind]Constructor {
	return map[config.Kind]Constructor{
		config.KindOffline: func(cfg *config.TranslatorConfig, logger zerolog.Logger) (Translator, error) {
			return NewOffline(cfg, logger)
		},
		config.KindGoogle: nil,
		config.KindLLM: func(cfg *config.TranslatorConfig, logger zerolog.Logger) (Translator, error) {
			return NewLLM(cfg, logger)
		},
		config.KindDeepL: nil,
	}
}
