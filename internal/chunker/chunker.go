// Package chunker splits transcript text into overlapping, sentence-aware
// segments suitable for embedding.
package chunker

import (
	"fmt"
	"strings"
)

// Split cuts text into chunks of at most chunkSize characters, preferring to end
// each chunk just after a sentence terminator found in the second half of the
// window. Consecutive chunks overlap by roughly overlap characters so context is
// not lost at boundaries. Chunks are trimmed; empty chunks are dropped.
func Split(text string, chunkSize, overlap int) ([]string, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, chunk size), got %d", overlap)
	}

	if len(text) <= chunkSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, nil
		}
		return []string{trimmed}, nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + chunkSize
		if end > len(text) {
			end = len(text)
		} else {
			// Prefer a sentence boundary, but only in the second half of the
			// window so chunks never degenerate to a few characters.
			if bp := lastSentenceEnd(text, start, end); bp > start+chunkSize/2 {
				end = bp + 1
			}
		}
		if end == start {
			end = start + chunkSize
			if end > len(text) {
				end = len(text)
			}
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(text) {
			break
		}

		next := end - overlap
		if next <= start {
			// Overlap would rewind past progress already made; continue from the
			// window end instead of looping forever.
			next = end
		}
		start = next
	}
	return chunks, nil
}

// lastSentenceEnd returns the index of the last '.', '!' or '?' in text[start:end),
// or -1 when none exists.
func lastSentenceEnd(text string, start, end int) int {
	for i := end - 1; i >= start; i-- {
		switch text[i] {
		case '.', '!', '?':
			return i
		}
	}
	return -1
}
