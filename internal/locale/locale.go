// Package locale picks between the two languages the app ships with.
//
// Only Japanese and English exist. "system" defers to the process
// environment (LC_ALL, then LANG): anything starting with "ja" is Japanese,
// everything else falls back to English.
package locale

import (
	"os"
	"strings"
)

// Language is a user-selectable display language.
type Language string

const (
	System   Language = "system"
	Japanese Language = "ja"
	English  Language = "en"
)

// Parse maps a config or flag value to a Language. Unknown values mean System.
func Parse(s string) Language {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ja", "japanese", "jp":
		return Japanese
	case "en", "english":
		return English
	default:
		return System
	}
}

// lookupEnv is a test seam for os.Getenv.
var lookupEnv = os.Getenv

// IsJapanese resolves System against the environment.
func (l Language) IsJapanese() bool {
	switch l {
	case Japanese:
		return true
	case English:
		return false
	}
	for _, key := range []string{"LC_ALL", "LANG"} {
		if v := lookupEnv(key); v != "" {
			return strings.HasPrefix(strings.ToLower(v), "ja")
		}
	}
	return false
}

// Text returns ja or en depending on the resolved language.
func Text(l Language, ja, en string) string {
	if l.IsJapanese() {
		return ja
	}
	return en
}

// FromAcceptLanguage picks a Language from an HTTP Accept-Language header.
// The first tag wins; q-values are ignored.
func FromAcceptLanguage(header string) Language {
	header = strings.TrimSpace(header)
	if header == "" {
		return English
	}
	first := strings.Split(header, ",")[0]
	first = strings.TrimSpace(strings.Split(first, ";")[0])
	if strings.HasPrefix(strings.ToLower(first), "ja") {
		return Japanese
	}
	return English
}
