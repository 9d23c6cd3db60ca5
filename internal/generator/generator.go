// Package generator synthesizes secret values from a GenerationSpec.
//
// All randomness comes from crypto/rand. Character-based kinds map each random
// byte onto the charset with a modulo. The charsets are far shorter than 256,
// so the resulting bias is bounded by 1/256 per character class; this is a
// known limitation, not a perfectly uniform draw.
package generator

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/systmms/secretsync/pkg/descriptor"
)

const (
	// DefaultLength is used when a spec leaves Length at zero.
	DefaultLength = 32

	lowercase = "abcdefghijklmnopqrstuvwxyz"
	uppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits    = "0123456789"
	symbols   = "!@#$%^&*()-_=+[]{}<>?"
)

// Charset returns the characters a kind may produce. Token and string kinds
// return their encoding alphabets.
func Charset(kind descriptor.Kind) string {
	switch kind {
	case descriptor.KindPassword:
		return lowercase + uppercase + digits + symbols
	case descriptor.KindKey:
		return lowercase + uppercase + digits
	case descriptor.KindToken:
		return "0123456789abcdef"
	case descriptor.KindString:
		return uppercase + lowercase + digits + "+/="
	default:
		return ""
	}
}

// Generator produces values from a random source.
type Generator struct {
	random io.Reader
}

// New returns a generator backed by crypto/rand.
func New() *Generator {
	return &Generator{random: rand.Reader}
}

// NewWithReader returns a generator reading randomness from r.
// r must be cryptographically secure outside of tests.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{random: r}
}

// Generate produces a value with the default generator.
func Generate(spec descriptor.GenerationSpec) (string, error) {
	return New().Generate(spec)
}

// Generate produces a value of the requested kind and length.
func (g *Generator) Generate(spec descriptor.GenerationSpec) (string, error) {
	length := spec.Length
	if length == 0 {
		length = DefaultLength
	}
	if length < 0 {
		return "", fmt.Errorf("invalid length %d", length)
	}

	switch spec.Kind {
	case descriptor.KindPassword, descriptor.KindKey:
		return g.fromCharset(Charset(spec.Kind), length)
	case descriptor.KindToken:
		raw, err := g.bytes(length)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(raw), nil
	case descriptor.KindString:
		raw, err := g.bytes(length)
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(raw), nil
	default:
		return "", fmt.Errorf("unknown generation kind %q", spec.Kind)
	}
}

// EncodedLength returns the length of the value Generate produces for spec.
func EncodedLength(spec descriptor.GenerationSpec) int {
	n := spec.Length
	if n == 0 {
		n = DefaultLength
	}
	switch spec.Kind {
	case descriptor.KindToken:
		return hex.EncodedLen(n)
	case descriptor.KindString:
		return base64.StdEncoding.EncodedLen(n)
	default:
		return n
	}
}

func (g *Generator) bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(g.random, buf); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return buf, nil
}

func (g *Generator) fromCharset(charset string, length int) (string, error) {
	randomBytes, err := g.bytes(length)
	if err != nil {
		return "", err
	}

	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = charset[int(randomBytes[i])%len(charset)]
	}
	return string(out), nil
}
