// Package chunker splits observation text into embedding-sized pieces and estimates token counts.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	DefaultMaxTokens = 256
	DefaultOverlap   = 32
)

// Chunk is one piece of a document.
type Chunk struct {
	Index      int
	Text       string
	TokenCount int
	// Hash identifies the chunk text; identical text yields the same hash.
	Hash string
}

// Chunker groups sentences into chunks of at most MaxTokens, carrying Overlap tokens
// of trailing sentences into the next chunk. A single sentence longer than MaxTokens
// becomes its own chunk.
type Chunker struct {
	MaxTokens int
	Overlap   int
}

func (c Chunker) limits() (int, int) {
	maxTokens, overlap := c.MaxTokens, c.Overlap
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap == 0 && c.MaxTokens <= 0 {
		overlap = DefaultOverlap
	}
	if overlap >= maxTokens {
		overlap = maxTokens / 2
	}
	return maxTokens, overlap
}

// Chunk splits text. Empty or whitespace-only text yields no chunks.
func (c Chunker) Chunk(text string) []Chunk {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return []Chunk{}
	}
	maxTokens, overlap := c.limits()

	var chunks []Chunk
	var window []string
	windowTokens := 0
	fresh := 0 // sentences in window not yet emitted

	emit := func() {
		body := strings.Join(window, " ")
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       body,
			TokenCount: windowTokens,
			Hash:       hashText(body),
		})
		window = tail(window, overlap)
		windowTokens = countAll(window)
		fresh = 0
	}

	for _, s := range sentences {
		n := CountTokens(s)
		if fresh > 0 && windowTokens+n > maxTokens {
			emit()
		}
		window = append(window, s)
		windowTokens += n
		fresh++
	}
	if fresh > 0 {
		emit()
	}
	return chunks
}

// First returns the first chunk of text, or "" when there is none.
func (c Chunker) First(text string) string {
	chunks := c.Chunk(text)
	if len(chunks) == 0 {
		return ""
	}
	return chunks[0].Text
}

// CountTokens estimates the token count of text as its number of whitespace-separated words.
func CountTokens(text string) int {
	return len(strings.Fields(text))
}

// EstimateTokens sums CountTokens over several parts.
func EstimateTokens(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += CountTokens(p)
	}
	return total
}

// splitSentences breaks on '.', '!' or '?' followed by whitespace, and on blank lines and list items.
func splitSentences(text string) []string {
	var sentences []string
	flush := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		runes := []rune(line)
		start := 0
		for i, r := range runes {
			if r != '.' && r != '!' && r != '?' {
				continue
			}
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush(string(runes[start : i+1]))
				start = i + 1
			}
		}
		flush(string(runes[start:]))
	}
	return sentences
}

func countAll(sentences []string) int {
	return EstimateTokens(sentences...)
}

// tail returns the shortest suffix of sentences holding at most overlap tokens.
func tail(sentences []string, overlap int) []string {
	if overlap == 0 {
		return nil
	}
	tokens := 0
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		n := CountTokens(sentences[i])
		if tokens+n > overlap {
			break
		}
		tokens += n
		start = i
	}
	return append([]string(nil), sentences[start:]...)
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}
