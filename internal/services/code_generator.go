package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	// OrderCodePrefix prefixes every order code.
	OrderCodePrefix = "DH"

	codeDigits             = 8
	defaultCodeMaxAttempts = 100
)

var (
	// ErrCodeInvalidInput indicates the caller supplied an unusable prefix.
	ErrCodeInvalidInput = errors.New("code: invalid input")
	// ErrCodeGenerationExhausted indicates every attempt collided with an existing code.
	ErrCodeGenerationExhausted = errors.New("code: generation exhausted")

	codeSpace = big.NewInt(100_000_000)
)

// CodeGeneratorDeps bundles collaborators required to construct a code generator.
type CodeGeneratorDeps struct {
	Random      io.Reader
	MaxAttempts int
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type codeGenerator struct {
	random      io.Reader
	maxAttempts int
	logger      func(context.Context, string, map[string]any)
}

var _ CodeGenerator = (*codeGenerator)(nil)

// NewCodeGenerator constructs a generator drawing digits from crypto/rand unless Random is set.
func NewCodeGenerator(deps CodeGeneratorDeps) CodeGenerator {
	random := deps.Random
	if random == nil {
		random = rand.Reader
	}
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultCodeMaxAttempts
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &codeGenerator{random: random, maxAttempts: attempts, logger: logger}
}

// Generate returns prefix followed by 8 zero padded random digits.
func (g *codeGenerator) Generate(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", fmt.Errorf("%w: prefix is required", ErrCodeInvalidInput)
	}
	n, err := rand.Int(g.random, codeSpace)
	if err != nil {
		return "", fmt.Errorf("code: read random: %w", err)
	}
	return fmt.Sprintf("%s%0*d", prefix, codeDigits, n.Int64()), nil
}

// GenerateUnique draws codes until exists reports a free one, giving up after the configured
// number of attempts.
func (g *codeGenerator) GenerateUnique(ctx context.Context, prefix string, exists CodeExistsFunc) (string, error) {
	if exists == nil {
		return "", fmt.Errorf("%w: existence check is required", ErrCodeInvalidInput)
	}
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := g.Generate(prefix)
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	g.logger(ctx, "code.generation.exhausted", map[string]any{
		"prefix":   prefix,
		"attempts": g.maxAttempts,
	})
	return "", fmt.Errorf("%w: prefix %s after %d attempts", ErrCodeGenerationExhausted, prefix, g.maxAttempts)
}
