package universalis

import "unicode/utf8"

// TokenCounter estimates token count for a string.
// Callers can plug in an exact tokenizer; default is CharFallbackCounter.
type TokenCounter interface {
	Count(text string) (int, error)
}

// CharFallbackCounter estimates tokens as runes/CharsPerToken.
// Zero value uses 4 chars per token (English average).
type CharFallbackCounter struct {
	CharsPerToken int
}

// Count returns estimated token count: ceil(rune_count / CharsPerToken).
// If CharsPerToken <= 0, uses 4.
func (c *CharFallbackCounter) Count(text string) (int, error) {
	n := utf8.RuneCountInString(text)
	cpt := c.charsPerToken()
	return (n + cpt - 1) / cpt, nil
}

func (c *CharFallbackCounter) charsPerToken() int {
	if c.CharsPerToken <= 0 {
		return 4
	}
	return c.CharsPerToken
}

// TruncateTokens cuts text so that counter reports at most maxTokens for it.
// The cut is made on a rune boundary by halving the search window.
func TruncateTokens(counter TokenCounter, text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", nil
	}
	n, err := counter.Count(text)
	if err != nil {
		return "", err
	}
	if n <= maxTokens {
		return text, nil
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		c, err := counter.Count(string(runes[:mid]))
		if err != nil {
			return "", err
		}
		if c <= maxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo]), nil
}
