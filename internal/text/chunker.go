// Package text splits narration text into provider-safe chunks.
//
// Chunk boundaries follow sentence punctuation first and word boundaries second, so a
// provider never receives more characters than its documented limit and never sees a
// word cut in half.
package text

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidMaxLength is returned when the chunk limit is not positive.
var ErrInvalidMaxLength = errors.New("max chunk length must be positive")

// Chunk is one bounded, contiguous slice of the normalized input text.
type Chunk struct {
	Ordinal int
	Content string
	// Length is counted in runes.
	Length int
}

// Split returns the ordered chunks of text, each at most maxLength runes long. A single
// word longer than maxLength is returned alone rather than being cut. Blank text yields
// no chunks.
func Split(text string, maxLength int) ([]Chunk, error) {
	if maxLength <= 0 {
		return nil, ErrInvalidMaxLength
	}

	normalized := NormalizeWhitespace(text)
	if normalized == "" {
		return []Chunk{}, nil
	}

	packer := &chunkPacker{maxLength: maxLength}

	for _, sentence := range splitSentences(normalized) {
		if utf8.RuneCountInString(sentence) > maxLength {
			for _, word := range strings.Fields(sentence) {
				packer.add(word)
			}

			continue
		}

		packer.add(sentence)
	}

	return packer.finish(), nil
}

// NormalizeWhitespace collapses runs of Unicode whitespace (including no-break,
// ideographic and line separator spaces) into single ASCII spaces and trims the ends.
func NormalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// chunkPacker greedily appends units to the current chunk while it stays within bounds.
type chunkPacker struct {
	maxLength     int
	chunks        []Chunk
	current       strings.Builder
	currentLength int
}

func (p *chunkPacker) add(unit string) {
	unitLength := utf8.RuneCountInString(unit)
	if unitLength == 0 {
		return
	}

	if p.currentLength > 0 && p.currentLength+1+unitLength > p.maxLength {
		p.flush()
	}

	if p.currentLength > 0 {
		p.current.WriteByte(' ')
		p.currentLength++
	}

	p.current.WriteString(unit)
	p.currentLength += unitLength
}

func (p *chunkPacker) flush() {
	if p.currentLength == 0 {
		return
	}

	p.chunks = append(p.chunks, Chunk{
		Ordinal: len(p.chunks),
		Content: p.current.String(),
		Length:  p.currentLength,
	})

	p.current.Reset()
	p.currentLength = 0
}

func (p *chunkPacker) finish() []Chunk {
	p.flush()

	return p.chunks
}

// splitSentences cuts whitespace-normalized text after sentence terminators that are
// followed by a space or the end of the text. Closing quotes and brackets directly
// after the terminator stay with the sentence.
func splitSentences(normalized string) []string {
	runes := []rune(normalized)
	sentences := make([]string, 0, len(runes)/64+1)
	start := 0

	for index := 0; index < len(runes); index++ {
		if !isTerminator(runes[index]) {
			continue
		}

		end := index + 1
		for end < len(runes) && (isTerminator(runes[end]) || isCloser(runes[end])) {
			end++
		}

		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			index = end - 1

			continue
		}

		sentences = appendSentence(sentences, runes[start:end])
		start = end
		index = end - 1
	}

	if start < len(runes) {
		sentences = appendSentence(sentences, runes[start:])
	}

	return sentences
}

func appendSentence(sentences []string, runes []rune) []string {
	sentence := strings.TrimSpace(string(runes))
	if sentence == "" {
		return sentences
	}

	return append(sentences, sentence)
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	default:
		return false
	}
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '»', '」', '』':
		return true
	default:
		return false
	}
}
