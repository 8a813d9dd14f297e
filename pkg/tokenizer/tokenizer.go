package tokenizer

import (
	"unicode/utf8"
)

// CountTokens estimates tokens as one per four characters, rounded up.
// It is an estimate for display and cost tracking, not a vendor count.
func CountTokens(text string) int {
	chars := utf8.RuneCountInString(text)
	return (chars + 3) / 4
}
