// Package script_test tests script cleaning and chunking.
package script_test

import (
	"strings"
	"testing"

	"github.com/crypto-fm/segment-service/internal/script"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanStripsStageDirections(t *testing.T) {
	t.Parallel()

	cleaner := script.NewCleaner()

	cleaned := cleaner.Clean("[upbeat intro music] Welcome back to Crypto FM. [sting]")
	assert.Equal(t, "Welcome back to Crypto FM.", cleaned)
}

func TestCleanStripsMarkupTags(t *testing.T) {
	t.Parallel()

	cleaner := script.NewCleaner()

	cleaned := cleaner.Clean("Bitcoin is <emphasis>up</emphasis> today.")
	assert.Equal(t, "Bitcoin is up today.", cleaned)
}

func TestCleanCollapsesWhitespace(t *testing.T) {
	t.Parallel()

	cleaner := script.NewCleaner()

	cleaned := cleaner.Clean("One.\n\n  Two.\tThree.")
	assert.Equal(t, "One. Two. Three.", cleaned)
}

func TestCleanLeavesPlainTextAlone(t *testing.T) {
	t.Parallel()

	cleaner := script.NewCleaner()

	text := "Hello world. This is segment one."
	assert.Equal(t, text, cleaner.Clean(text))
}

func TestHasSentenceEnd(t *testing.T) {
	t.Parallel()

	assert.True(t, script.HasSentenceEnd("Markets closed higher today."))
	assert.True(t, script.HasSentenceEnd("Really?"))
	assert.False(t, script.HasSentenceEnd("and the next thing we saw was"))
}

func TestSplitChunksShortTextIsSingleChunk(t *testing.T) {
	t.Parallel()

	chunks := script.SplitChunks("Short update.", 4500)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Short update.", chunks[0])
}

func TestSplitChunksPrefersSentenceBoundary(t *testing.T) {
	t.Parallel()

	// Sentence break at character 4200, total length 6000, window 4500.
	first := strings.Repeat("a", 4199) + "."
	rest := " " + strings.Repeat("b", 5999-len(first))
	text := first + rest
	require.Len(t, text, 6000)

	chunks := script.SplitChunks(text, 4500)
	require.Len(t, chunks, 2)
	assert.Equal(t, first, chunks[0])
	assert.Equal(t, rest, chunks[1])
}

func TestSplitChunksFallsBackToComma(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("x", 50) + "," + strings.Repeat("y", 60)

	chunks := script.SplitChunks(text, 80)
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("x", 50)+",", chunks[0])
}

func TestSplitChunksHardCutWithoutPunctuation(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("z", 100)

	chunks := script.SplitChunks(text, 40)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 40)
	assert.Len(t, chunks[1], 40)
	assert.Len(t, chunks[2], 20)
}

func TestSplitChunksReconstructsOriginalExactly(t *testing.T) {
	t.Parallel()

	// Text of length 3*maxChars with a sentence break roughly every 200 chars.
	var builder strings.Builder
	sentence := strings.Repeat("w", 198) + ". "

	for builder.Len() < 3*4500 {
		builder.WriteString(sentence)
	}

	text := builder.String()[:3*4500]

	chunks := script.SplitChunks(text, 4500)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk)), 4500)
	}

	assert.Equal(t, text, strings.Join(chunks, ""))
}
