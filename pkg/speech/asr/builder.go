package asr

import "strings"

// Builder accumulates recognised tokens in arrival order. It only grows:
// tokens are never revised or removed before [Builder.Reset].
type Builder struct {
	sb     strings.Builder
	tokens int
}

// Append adds tokens in order. Empty tokens are skipped.
func (b *Builder) Append(tokens ...string) {
	for _, t := range tokens {
		if t == "" {
			continue
		}
		b.sb.WriteString(t)
		b.tokens++
	}
}

// Len returns the number of tokens appended.
func (b *Builder) Len() int { return b.tokens }

// String returns all tokens concatenated without separators.
func (b *Builder) String() string { return b.sb.String() }

// Reset discards everything.
func (b *Builder) Reset() {
	b.sb.Reset()
	b.tokens = 0
}
