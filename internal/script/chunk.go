package script

import "strings"

// SplitChunks splits text into chunks of at most maxChars characters, breaking
// at the last sentence-ending punctuation inside each window, falling back to
// the last comma, and hard-cutting only when neither exists. Chunks are exact
// slices of the input: concatenating them reproduces the original text.
func SplitChunks(text string, maxChars int) []string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return []string{text}
	}

	var chunks []string

	for len(runes) > maxChars {
		window := runes[:maxChars]

		cut := breakIndex(window)

		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}

	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}

	return chunks
}

// breakIndex returns the cut position for one window: one past the last
// sentence ender, else one past the last comma, else the full window.
func breakIndex(window []rune) int {
	if idx := lastIndexAny(window, sentenceEnders); idx > 0 {
		return idx + 1
	}

	if idx := lastIndexAny(window, ","); idx > 0 {
		return idx + 1
	}

	return len(window)
}

func lastIndexAny(runes []rune, chars string) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if strings.ContainsRune(chars, runes[i]) {
			return i
		}
	}

	return -1
}
