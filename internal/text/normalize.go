// Package text provides optional input-text normalization for synthesis.
//
// The transforms are language-neutral: whitespace collapsing, typographic
// character mapping, and punctuation cleanup. Language-specific rewriting
// (number spelling, abbreviation expansion) is left to the synthesis engine,
// which knows the target language.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Typographic characters mapped to their plain equivalents.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

const whitespaceRegexPattern = `\s+`

// Normalizer applies the cleanup pipeline to input text.
type Normalizer struct {
	whitespacePattern *regexp.Regexp
	charReplacer      *strings.Replacer
}

// NewNormalizer creates a normalizer with compiled patterns and replacers.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		charReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"„", `"`, // low-9 opening quote used in Czech and German
			"«", `"`, "»", `"`,
			"‘", "'", "’", "'",
			"‚", "'",
		),
	}
}

// Normalize cleans text for synthesis. Empty input passes through unchanged.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	cleaned := n.collapseWhitespace(text)
	cleaned = collapseRepeatedPunctuation(cleaned)
	cleaned = n.charReplacer.Replace(cleaned)

	return ensureTerminalMark(cleaned)
}

// collapseWhitespace folds runs of whitespace into single spaces and trims
// the ends.
func (n *Normalizer) collapseWhitespace(text string) string {
	return strings.TrimSpace(n.whitespacePattern.ReplaceAllString(text, " "))
}

// collapseRepeatedPunctuation keeps only the first mark of each punctuation
// run.
func collapseRepeatedPunctuation(text string) string {
	var (
		result       []rune
		lastWasPunct bool
	)

	for _, char := range text {
		isPunct := unicode.IsPunct(char)
		if !isPunct || !lastWasPunct {
			result = append(result, char)
		}

		lastWasPunct = isPunct
	}

	return string(result)
}

// ensureTerminalMark appends a period when the text does not already end
// with sentence-final punctuation.
func ensureTerminalMark(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}

	lastChar, _ := utf8.DecodeLastRuneInString(trimmed)
	if !unicode.IsPunct(lastChar) {
		return trimmed + "."
	}

	switch lastChar {
	case '.', '!', '?':
		return trimmed
	default:
		return trimmed + "."
	}
}
