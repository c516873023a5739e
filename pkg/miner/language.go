package miner

import (
	"path"
	"strings"

	"github.com/src-d/enry/v2"
)

// extLanguages is checked before enry so the historical mapping (".h" is C)
// stays stable.
var extLanguages = map[string]string{
	"py":    "Python",
	"java":  "Java",
	"cpp":   "C++",
	"c":     "C",
	"js":    "JavaScript",
	"rb":    "Ruby",
	"swift": "Swift",
	"go":    "Go",
	"rs":    "Rust",
	"ts":    "TypeScript",
	"php":   "PHP",
	"cs":    "C#",
	"h":     "C",
}

// LanguageOf resolves the language of a repository path from its extension.
// Unknown or ambiguous extensions resolve to "".
func LanguageOf(p string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if ext == "" {
		return ""
	}

	if lang, ok := extLanguages[ext]; ok {
		return lang
	}

	lang, safe := enry.GetLanguageByExtension(p)
	if !safe {
		return ""
	}

	return lang
}

// MatchesLanguage reports whether p is written in language. An empty language
// accepts every path.
func MatchesLanguage(p, language string) bool {
	if language == "" {
		return true
	}

	return strings.EqualFold(LanguageOf(p), language)
}
