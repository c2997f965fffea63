package text

import (
	"fmt"
	"regexp"
	"strings"
)

// Regex patterns for narration cleanup.
const (
	urlRegexPattern          = `https?://\S+`
	emailRegexPattern        = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	referenceRegexPattern    = `\[\d+(?:[,\-–]\s*\d+)*\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	abbreviationRegexPattern = `\b(?:Mrs|Mr|Ms|Dr|St|Prof|Jr|Sr|vs|etc)\.|\b(?:e\.g|i\.e)\.`
	placeholderPattern       = "\x00%d\x00"
)

// Abbreviations end in a period that would otherwise look like a sentence end.
var abbreviations = map[string]string{
	"Mr.":   "Mister",
	"Mrs.":  "Missus",
	"Ms.":   "Miz",
	"Dr.":   "Doctor",
	"St.":   "Saint",
	"Prof.": "Professor",
	"Jr.":   "Junior",
	"Sr.":   "Senior",
	"e.g.":  "for example",
	"i.e.":  "that is",
	"etc.":  "et cetera",
	"vs.":   "versus",
}

// Cleaner rewrites text so that it reads well aloud and splits on real sentence
// boundaries. It is safe for concurrent use.
type Cleaner struct {
	urlPattern          *regexp.Regexp
	emailPattern        *regexp.Regexp
	referencePattern    *regexp.Regexp
	abbreviationPattern *regexp.Regexp
	punctuationReplacer *strings.Replacer
}

// NewCleaner creates a Cleaner with its patterns compiled.
func NewCleaner() *Cleaner {
	return &Cleaner{
		urlPattern:          regexp.MustCompile(urlRegexPattern),
		emailPattern:        regexp.MustCompile(emailRegexPattern),
		referencePattern:    regexp.MustCompile(referenceRegexPattern),
		abbreviationPattern: regexp.MustCompile(abbreviationRegexPattern),
		punctuationReplacer: strings.NewReplacer(
			"—", ", ",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Clean expands abbreviations, drops citation markers, normalizes quotes and dashes,
// collapses repeated sentence punctuation and whitespace. URLs and email addresses are
// left untouched.
func (c *Cleaner) Clean(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	preserved, tokens := c.preserveTokens(text)

	cleaned := c.abbreviationPattern.ReplaceAllStringFunc(preserved, func(match string) string {
		return abbreviations[match]
	})
	cleaned = c.referencePattern.ReplaceAllString(cleaned, "")
	cleaned = c.punctuationReplacer.Replace(cleaned)
	cleaned = collapseRepeatedPunctuation(cleaned)
	cleaned = NormalizeWhitespace(cleaned)
	cleaned = strings.ReplaceAll(cleaned, " ,", ",")

	return restoreTokens(cleaned, tokens)
}

// preserveTokens swaps URLs and emails for placeholders so that no later step
// rewrites them.
func (c *Cleaner) preserveTokens(text string) (string, []string) {
	var tokens []string

	replace := func(pattern *regexp.Regexp, input string) string {
		return pattern.ReplaceAllStringFunc(input, func(match string) string {
			tokens = append(tokens, match)

			return fmt.Sprintf(placeholderPattern, len(tokens)-1)
		})
	}

	processed := replace(c.urlPattern, text)
	processed = replace(c.emailPattern, processed)

	return processed, tokens
}

func restoreTokens(text string, tokens []string) string {
	for index, token := range tokens {
		text = strings.ReplaceAll(text, fmt.Sprintf(placeholderPattern, index), token)
	}

	return text
}

// collapseRepeatedPunctuation reduces runs such as "!!!" or "?!?" to their first mark.
// Ellipses are kept.
func collapseRepeatedPunctuation(text string) string {
	var builder strings.Builder

	builder.Grow(len(text))

	var previous rune

	for _, char := range text {
		if isCollapsible(char) && isCollapsible(previous) && !(char == '.' && previous == '.') {
			continue
		}

		builder.WriteRune(char)
		previous = char
	}

	return builder.String()
}

func isCollapsible(char rune) bool {
	switch char {
	case '!', '?', '.', ',', ';', ':':
		return true
	default:
		return false
	}
}
