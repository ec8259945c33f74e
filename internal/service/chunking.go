package service

import (
	"strings"
	"unicode"
)

// SemanticChunkConfig controls semantic chunking for document vectorization.
type SemanticChunkConfig struct {
	// BufferSize is the number of neighboring sentences included on each
	// side of a sentence's context window.
	BufferSize int
	// BreakpointPercentile is the quantile of the distance distribution
	// above which a sentence transition counts as a topic boundary.
	BreakpointPercentile float64
	// FallbackMaxChars caps chunk size for the embedding-free fallback path.
	FallbackMaxChars int
}

// DefaultSemanticChunkConfig provides sane defaults for chunking.
func DefaultSemanticChunkConfig() SemanticChunkConfig {
	return SemanticChunkConfig{
		BufferSize:           1,
		BreakpointPercentile: 90,
		FallbackMaxChars:     2000,
	}
}

// normalizeText strips control characters, collapses whitespace runs to a
// single space, and drops characters outside the safe punctuation set.
func normalizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := true
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		// C0/C1 control ranges plus DEL
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			continue
		}
		if !isSafeRune(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}

	return strings.TrimSpace(b.String())
}

func isSafeRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
		return true
	}
	switch r {
	case '.', ',', '!', '?', ';', ':', '(', ')', '-', '\'', '"':
		return true
	}
	return false
}

// splitSentences normalizes text and splits it into ordered sentences. If
// the primary scanner finds nothing usable it falls back to splitting on
// sentence-ending punctuation followed by an uppercase letter; if that also
// yields nothing, the whole cleaned text is one sentence.
func splitSentences(text string) []string {
	clean := normalizeText(text)
	if clean == "" {
		return nil
	}

	sentences := scanSentences(clean)
	if len(sentences) == 0 {
		sentences = fallbackSplitSentences(clean)
	}
	if len(sentences) == 0 {
		return []string{clean}
	}
	return sentences
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// scanSentences is the primary sentence-boundary scanner. A sentence ends at
// a run of terminators followed by whitespace, except when the period sits
// between digits (decimals) or directly after a single letter
// (initials, enumerations).
func scanSentences(text string) []string {
	runes := []rune(text)
	sentences := make([]string, 0, 8)
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}

		// consume the terminator run
		end := i
		for end+1 < len(runes) && isTerminator(runes[end+1]) {
			end++
		}

		// boundary only if followed by whitespace or end of text
		if end+1 < len(runes) && runes[end+1] != ' ' {
			i = end
			continue
		}

		if runes[i] == '.' && i == end {
			// x.y decimals never reach here (no space follows), but guard
			// single-letter initials like "J. Smith"
			if i >= 1 && unicode.IsLetter(runes[i-1]) && (i == 1 || runes[i-2] == ' ') {
				i = end
				continue
			}
		}

		sentence := strings.TrimSpace(string(runes[start : end+1]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = end + 1
		i = end
	}

	if start < len(runes) {
		tail := strings.TrimSpace(string(runes[start:]))
		if tail != "" {
			sentences = append(sentences, tail)
		}
	}

	return sentences
}

// fallbackSplitSentences splits on sentence-ending punctuation followed by
// whitespace and an uppercase letter.
func fallbackSplitSentences(text string) []string {
	runes := []rune(text)
	sentences := make([]string, 0, 8)
	start := 0

	for i := 0; i+2 < len(runes); i++ {
		if isTerminator(runes[i]) && runes[i+1] == ' ' && unicode.IsUpper(runes[i+2]) {
			sentence := strings.TrimSpace(string(runes[start : i+1]))
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			start = i + 1
		}
	}

	tail := strings.TrimSpace(string(runes[start:]))
	if tail != "" {
		sentences = append(sentences, tail)
	}

	if len(sentences) <= 1 {
		return nil
	}
	return sentences
}

// fallbackChunk is the embedding-free chunking strategy: re-split the
// original input on sentence-ending punctuation, then greedily accumulate
// sentences into chunks, flushing before the cap would be exceeded.
// Guarantees at least one chunk for non-empty input.
func fallbackChunk(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultSemanticChunkConfig().FallbackMaxChars
	}

	clean := strings.TrimSpace(text)
	if clean == "" {
		return nil
	}

	sentences := splitOnTerminators(clean)
	if len(sentences) == 0 {
		sentences = []string{clean}
	}

	chunks := make([]string, 0, 4)
	var current strings.Builder

	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+1+len(sentence) > maxChars {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

// splitOnTerminators divides text into sentence-ending-punctuation-delimited
// pieces, keeping the terminators.
func splitOnTerminators(text string) []string {
	runes := []rune(text)
	parts := make([]string, 0, 8)
	start := 0

	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		for i+1 < len(runes) && isTerminator(runes[i+1]) {
			i++
		}
		part := strings.TrimSpace(string(runes[start : i+1]))
		if part != "" {
			parts = append(parts, part)
		}
		start = i + 1
	}

	if start < len(runes) {
		tail := strings.TrimSpace(string(runes[start:]))
		if tail != "" {
			parts = append(parts, tail)
		}
	}

	return parts
}
