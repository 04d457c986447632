// Package script provides text preparation for the segment pipeline: cleaning
// externally produced radio-script text and splitting it into provider-sized
// chunks at natural boundaries.
package script

import (
	"regexp"
	"strings"
)

// Regex patterns for script cleaning.
const (
	directionRegexPattern  = `\[[^\]]*\]`
	markupTagRegexPattern  = `<[^>]+>`
	whitespaceRegexPattern = `\s+`
)

// Sentence-ending punctuation used both by the ingest guard and the chunker.
const sentenceEnders = ".!?"

// Cleaner strips stage directions and markup from script text before it is
// stored or spoken. Patterns are compiled once and reused.
type Cleaner struct {
	directionPattern  *regexp.Regexp
	markupTagPattern  *regexp.Regexp
	whitespacePattern *regexp.Regexp
}

// NewCleaner creates a cleaner with compiled patterns.
func NewCleaner() *Cleaner {
	return &Cleaner{
		directionPattern:  regexp.MustCompile(directionRegexPattern),
		markupTagPattern:  regexp.MustCompile(markupTagRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
	}
}

// Clean removes bracketed stage directions ("[upbeat music]") and inline markup
// tags, then collapses the whitespace the removals leave behind.
func (c *Cleaner) Clean(text string) string {
	cleaned := c.directionPattern.ReplaceAllString(text, " ")

	cleaned = c.markupTagPattern.ReplaceAllString(cleaned, " ")

	cleaned = c.whitespacePattern.ReplaceAllString(cleaned, " ")

	return strings.TrimSpace(cleaned)
}

// HasSentenceEnd reports whether the text contains terminal sentence
// punctuation. The ingestor uses this as a guard against enqueuing a
// mid-sentence fragment of a transcript still being written.
func HasSentenceEnd(text string) bool {
	return strings.ContainsAny(text, sentenceEnders)
}
