package rotation

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	assert.Equal(t, 16, p.Length)
	assert.Len(t, p.Alphabet, 76)
	assert.NoError(t, p.Validate())
}

func TestPolicy_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		policy  Policy
		wantErr string
	}{
		{name: "valid", policy: Policy{Alphabet: "abc", Length: 4}},
		{name: "single character alphabet", policy: Policy{Alphabet: "x", Length: 3}},
		{name: "zero length", policy: Policy{Alphabet: "abc", Length: 0}, wantErr: "at least 1"},
		{name: "negative length", policy: Policy{Alphabet: "abc", Length: -2}, wantErr: "at least 1"},
		{name: "too long", policy: Policy{Alphabet: "abc", Length: MaxLength + 1}, wantErr: "at most"},
		{name: "empty alphabet", policy: Policy{Length: 8}, wantErr: "alphabet is empty"},
		{name: "duplicate character", policy: Policy{Alphabet: "abca", Length: 8}, wantErr: `'a' more than once`},
		{name: "duplicate multibyte", policy: Policy{Alphabet: "äbä", Length: 8}, wantErr: "more than once"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.policy.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPolicy)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPolicy_Merge(t *testing.T) {
	t.Parallel()

	merged := Policy{Length: 32}.Merge(DefaultPolicy())
	assert.Equal(t, Policy{Alphabet: DefaultAlphabet, Length: 32}, merged)

	merged = Policy{Alphabet: "01"}.Merge(DefaultPolicy())
	assert.Equal(t, Policy{Alphabet: "01", Length: DefaultLength}, merged)
}

func TestPolicy_Entropy(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 16.0, Policy{Alphabet: "01", Length: 16}.Entropy(), 1e-9)
	assert.InDelta(t, 64.0, Policy{Alphabet: "0123456789abcdef", Length: 16}.Entropy(), 1e-9)
	assert.Zero(t, Policy{Alphabet: "a", Length: 16}.Entropy())
}

func TestGenerate_LengthAndMembership(t *testing.T) {
	t.Parallel()

	alphabet := LowerChars + UpperChars + DigitChars + "!@#$%^&*"
	require.Len(t, alphabet, 70)
	p := Policy{Alphabet: alphabet, Length: 16}

	for i := 0; i < 200; i++ {
		s, err := Generate(p)
		require.NoError(t, err)
		require.Len(t, s, 16)
		for _, r := range s {
			require.True(t, strings.ContainsRune(alphabet, r), "unexpected character %q", r)
		}
	}
}

func TestGenerate_NoDuplicatesAcrossSamples(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		s, err := Generate(p)
		require.NoError(t, err)
		_, dup := seen[s]
		require.False(t, dup, "duplicate secret after %d samples", i)
		seen[s] = struct{}{}
	}
}

func TestGenerate_CoversAlphabet(t *testing.T) {
	t.Parallel()

	p := Policy{Alphabet: "abcd", Length: 64}
	counts := map[rune]int{}
	for i := 0; i < 50; i++ {
		s, err := Generate(p)
		require.NoError(t, err)
		for _, r := range s {
			counts[r]++
		}
	}
	assert.Len(t, counts, 4)
	for r, n := range counts {
		// 3200 draws over 4 symbols, expected 800 each
		assert.InDelta(t, 800, n, 200, "character %q", r)
	}
}

func TestGenerate_MultibyteAlphabet(t *testing.T) {
	t.Parallel()

	s, err := Generate(Policy{Alphabet: "äöü", Length: 10})
	require.NoError(t, err)
	assert.Len(t, []rune(s), 10)
}

func TestGenerate_InvalidPolicy(t *testing.T) {
	t.Parallel()

	_, err := Generate(Policy{Alphabet: "", Length: 4})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestGenerateFrom_ShortSource(t *testing.T) {
	t.Parallel()

	_, err := GenerateFrom(bytes.NewReader(nil), DefaultPolicy())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "random source")
}
