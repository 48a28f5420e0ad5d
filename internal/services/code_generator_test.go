package services

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
)

var orderCodePattern = regexp.MustCompile(`^DH[0-9]{8}$`)

func TestCodeGeneratorGenerateFormat(t *testing.T) {
	gen := NewCodeGenerator(CodeGeneratorDeps{})
	for i := 0; i < 50; i++ {
		code, err := gen.Generate(OrderCodePrefix)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !orderCodePattern.MatchString(code) {
			t.Fatalf("unexpected code format %q", code)
		}
	}
}

func TestCodeGeneratorPadsSmallValues(t *testing.T) {
	// an all-zero stream makes rand.Int return 0
	gen := NewCodeGenerator(CodeGeneratorDeps{Random: bytes.NewReader(make([]byte, 64))})
	code, err := gen.Generate("SP")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if code != "SP00000000" {
		t.Fatalf("expected SP00000000, got %s", code)
	}
}

func TestCodeGeneratorRejectsBlankPrefix(t *testing.T) {
	gen := NewCodeGenerator(CodeGeneratorDeps{})
	if _, err := gen.Generate("  "); !errors.Is(err, ErrCodeInvalidInput) {
		t.Fatalf("expected ErrCodeInvalidInput, got %v", err)
	}
}

func TestCodeGeneratorRetriesOnCollision(t *testing.T) {
	gen := NewCodeGenerator(CodeGeneratorDeps{})
	calls := 0
	code, err := gen.GenerateUnique(context.Background(), OrderCodePrefix, func(context.Context, string) (bool, error) {
		calls++
		return calls < 3, nil
	})
	if err != nil {
		t.Fatalf("generate unique: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 existence checks, got %d", calls)
	}
	if !orderCodePattern.MatchString(code) {
		t.Fatalf("unexpected code %q", code)
	}
}

func TestCodeGeneratorExhausted(t *testing.T) {
	var events []string
	gen := NewCodeGenerator(CodeGeneratorDeps{
		MaxAttempts: 5,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		},
	})
	calls := 0
	_, err := gen.GenerateUnique(context.Background(), OrderCodePrefix, func(context.Context, string) (bool, error) {
		calls++
		return true, nil
	})
	if !errors.Is(err, ErrCodeGenerationExhausted) {
		t.Fatalf("expected ErrCodeGenerationExhausted, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("expected 5 attempts, got %d", calls)
	}
	if len(events) != 1 || events[0] != "code.generation.exhausted" {
		t.Fatalf("expected exhaustion to be logged, got %v", events)
	}
}

func TestCodeGeneratorDefaultCeiling(t *testing.T) {
	gen := NewCodeGenerator(CodeGeneratorDeps{})
	calls := 0
	_, err := gen.GenerateUnique(context.Background(), OrderCodePrefix, func(context.Context, string) (bool, error) {
		calls++
		return true, nil
	})
	if !errors.Is(err, ErrCodeGenerationExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if calls != 100 {
		t.Fatalf("expected 100 attempts, got %d", calls)
	}
}

func TestCodeGeneratorPropagatesLookupError(t *testing.T) {
	gen := NewCodeGenerator(CodeGeneratorDeps{})
	lookupErr := errors.New("db down")
	_, err := gen.GenerateUnique(context.Background(), OrderCodePrefix, func(context.Context, string) (bool, error) {
		return false, lookupErr
	})
	if !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
}
