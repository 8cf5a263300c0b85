package rotation

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
)

// Character classes of the default alphabet.
const (
	LowerChars  = "abcdefghijklmnopqrstuvwxyz"
	UpperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	DigitChars  = "0123456789"
	SymbolChars = "!@#$%^&*()_+-="

	DefaultAlphabet = LowerChars + UpperChars + DigitChars + SymbolChars
	DefaultLength   = 16

	// MaxLength bounds generated secrets; no password form accepts more.
	MaxLength = 1024
)

// ErrInvalidPolicy is wrapped by every Policy validation failure.
var ErrInvalidPolicy = errors.New("invalid secret policy")

// Policy describes how new secrets are generated.
type Policy struct {
	Alphabet string `json:"alphabet" yaml:"alphabet"`
	Length   int    `json:"length" yaml:"length"`
}

// DefaultPolicy returns 16 characters drawn from DefaultAlphabet.
func DefaultPolicy() Policy {
	return Policy{Alphabet: DefaultAlphabet, Length: DefaultLength}
}

// Validate checks that the policy can produce uniformly distributed secrets.
func (p Policy) Validate() error {
	if p.Length < 1 {
		return fmt.Errorf("%w: length must be at least 1, got %d", ErrInvalidPolicy, p.Length)
	}
	if p.Length > MaxLength {
		return fmt.Errorf("%w: length must be at most %d, got %d", ErrInvalidPolicy, MaxLength, p.Length)
	}
	if p.Alphabet == "" {
		return fmt.Errorf("%w: alphabet is empty", ErrInvalidPolicy)
	}
	seen := make(map[rune]struct{}, len(p.Alphabet))
	for _, r := range p.Alphabet {
		if _, dup := seen[r]; dup {
			return fmt.Errorf("%w: alphabet contains %q more than once", ErrInvalidPolicy, r)
		}
		seen[r] = struct{}{}
	}
	return nil
}

// Merge returns p with zero fields taken from fallback.
func (p Policy) Merge(fallback Policy) Policy {
	if p.Alphabet == "" {
		p.Alphabet = fallback.Alphabet
	}
	if p.Length == 0 {
		p.Length = fallback.Length
	}
	return p
}

// Entropy returns the strength of a generated secret in bits.
func (p Policy) Entropy() float64 {
	n := len([]rune(p.Alphabet))
	if n < 2 || p.Length < 1 {
		return 0
	}
	return float64(p.Length) * math.Log2(float64(n))
}

// Generate draws a secret from the policy using crypto/rand.
func Generate(p Policy) (string, error) {
	return GenerateFrom(rand.Reader, p)
}

// GenerateFrom draws a secret using the given entropy source. Each character
// is chosen independently and uniformly from the alphabet.
func GenerateFrom(src io.Reader, p Policy) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}

	alphabet := []rune(p.Alphabet)
	size := big.NewInt(int64(len(alphabet)))
	out := make([]rune, p.Length)
	for i := range out {
		n, err := rand.Int(src, size)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
