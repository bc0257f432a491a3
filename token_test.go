package universalis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharFallbackCounter_Count(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cpt  int
		text string
		want int
	}{
		{"empty default", 0, "", 0},
		{"ASCII short default", 0, "hello", 2},
		{"ASCII exact", 4, "abcd", 1},
		{"Cyrillic", 4, "привет", 2},
		{"Cyrillic cpt2", 2, "привет", 3},
		{"unicode mixed", 4, "Hello 世界", 2},
		{"negative cpt uses 4", -1, "1234", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &CharFallbackCounter{CharsPerToken: tt.cpt}
			got, err := c.Count(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTruncateTokens(t *testing.T) {
	t.Parallel()
	c := &CharFallbackCounter{CharsPerToken: 1}
	got, err := TruncateTokens(c, "abcdef", 3)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	got, err = TruncateTokens(c, "ab", 3)
	require.NoError(t, err)
	assert.Equal(t, "ab", got)

	got, err = TruncateTokens(c, "привет мир", 6)
	require.NoError(t, err)
	assert.Equal(t, "привет", got)

	got, err = TruncateTokens(c, "abc", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

type failingCounter struct{}

func (failingCounter) Count(string) (int, error) { return 0, errors.New("tokenizer down") }

func TestTruncateTokens_CounterError(t *testing.T) {
	t.Parallel()
	_, err := TruncateTokens(failingCounter{}, "abc", 2)
	require.Error(t, err)
}
