package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// readFallbackFile loads "secret://name=value" lines (sm:// accepted) for local development.
// A missing file yields an empty set.
func readFallbackFile(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return map[string]string{}, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: open fallback file: %w", err)
	}
	defer f.Close()
	values, err := parseFallback(f)
	if err != nil {
		return nil, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	return values, nil
}

// parseFallback keys values by secret name. Versions and projects are not distinguished
// locally, so every version of a secret falls back to the same value.
func parseFallback(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawRef, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ref, err := ParseRef(rawRef)
		if err != nil {
			continue
		}
		values[ref.Name] = strings.TrimSpace(value)
	}
	return values, scanner.Err()
}
