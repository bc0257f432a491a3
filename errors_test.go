package universalis

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderError_Error(t *testing.T) {
	t.Parallel()
	err := CallFailed(ProviderClaude, errors.New("overloaded"))
	assert.Contains(t, err.Error(), "claude")
	assert.Contains(t, err.Error(), "overloaded")
	assert.Contains(t, err.Error(), "universalis:")
}

func TestProviderError_Classification(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")
	tests := []struct {
		name        string
		err         error
		unavailable bool
		call        bool
		malformed   bool
		op          string
	}{
		{"unavailable", Unavailable(ProviderOllama, cause), true, false, false, OpProbe},
		{"call", CallFailed(ProviderOpenAI, cause), false, true, false, OpCall},
		{"normalize", NormalizeFailed(ProviderGoogle, cause), false, true, true, OpNormalize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			outer := fmt.Errorf("outer: %w", tt.err)
			assert.Equal(t, tt.unavailable, errors.Is(outer, ErrProviderUnavailable))
			assert.Equal(t, tt.call, errors.Is(outer, ErrProviderCall))
			assert.Equal(t, tt.malformed, errors.Is(outer, ErrMalformedResponse))
			require.ErrorIs(t, outer, cause)
			var pe *ProviderError
			require.ErrorAs(t, outer, &pe)
			assert.Equal(t, tt.op, pe.Op)
		})
	}
}

func TestNormalizeFailed_KeepsSingleMalformedWrap(t *testing.T) {
	t.Parallel()
	err := NormalizeFailed(ProviderOpenAI, fmt.Errorf("%w: no choices", ErrMalformedResponse))
	assert.Equal(t, 1, strings.Count(err.Error(), ErrMalformedResponse.Error()))
}
