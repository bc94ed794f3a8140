// Package locale resolves requested or user-preferred language codes to the
// supported set with deterministic fallback. Resolution is a pure, total
// function: it never fails, it falls back to the default.
package locale

import (
	"strings"
)

// Language is a supported language code.
type Language string

// Supported languages. The enumeration is open: adding a code here is the
// only change needed to support a new language end to end.
const (
	English Language = "en"
	Turkish Language = "tr"
	Russian Language = "ru"
	Hindi   Language = "hi"
)

// Default is the fallback language for unsupported or absent inputs.
const Default = English

// supported is the lookup set behind Resolve.
var supported = map[Language]bool{
	English: true,
	Turkish: true,
	Russian: true,
	Hindi:   true,
}

// Resolve normalizes lang (trimmed, case-insensitive) and returns it if
// supported, otherwise Default.
func Resolve(lang string) Language {
	normalized := Language(strings.ToLower(strings.TrimSpace(lang)))
	if supported[normalized] {
		return normalized
	}
	return Default
}

// IsSupported reports whether lang (already normalized) is a supported code.
func IsSupported(lang string) bool {
	return supported[Language(lang)]
}

// All returns the supported language codes in a stable order.
func All() []Language {
	return []Language{English, Turkish, Russian, Hindi}
}

// DateLocale maps a language to the locale identifier used for date
// formatting in rendered content.
func DateLocale(lang Language) string {
	switch lang {
	case Turkish:
		return "tr-TR"
	case Russian:
		return "ru-RU"
	case Hindi:
		return "hi-IN"
	default:
		return "en-US"
	}
}
