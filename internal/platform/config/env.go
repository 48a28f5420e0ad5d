package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// envSource is the merged view of .env, process environment and explicit overrides, in
// increasing precedence. Malformed values are remembered by key so Load can reject them
// instead of silently running on defaults.
type envSource struct {
	values    map[string]string
	malformed map[string]struct{}
}

func newEnvSource(options loaderOptions) (*envSource, error) {
	values, err := readDotEnvFile(options.envFile)
	if err != nil {
		return nil, err
	}
	if values == nil {
		values = make(map[string]string)
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return &envSource{values: values, malformed: make(map[string]struct{})}, nil
}

func (s *envSource) raw(key string) (string, bool) {
	value := strings.TrimSpace(s.values[key])
	return value, value != ""
}

func (s *envSource) str(key, fallback string) string {
	if value, ok := s.raw(key); ok {
		return value
	}
	return fallback
}

func (s *envSource) lower(key, fallback string) string {
	return strings.ToLower(s.str(key, fallback))
}

func (s *envSource) duration(key string, fallback time.Duration) time.Duration {
	value, ok := s.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		s.malformed[key] = struct{}{}
		return fallback
	}
	return d
}

func (s *envSource) integer(key string, fallback int) int {
	value, ok := s.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		s.malformed[key] = struct{}{}
		return fallback
	}
	return n
}

func (s *envSource) flag(key string, fallback bool) bool {
	value, ok := s.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	s.malformed[key] = struct{}{}
	return fallback
}

// list splits a comma separated value, dropping empty entries.
func (s *envSource) list(key string) []string {
	value, _ := s.raw(key)
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *envSource) malformedKeys() []string {
	if len(s.malformed) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.malformed))
	for key := range s.malformed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func readDotEnvFile(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	values, err := parseDotEnv(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

// parseDotEnv reads KEY=VALUE lines. Blank lines, # comments and an "export " prefix are
// accepted; surrounding quotes are stripped from values.
func parseDotEnv(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if key = strings.TrimSpace(key); !ok || key == "" {
			continue
		}
		values[key] = unquote(strings.TrimSpace(value))
	}
	return values, scanner.Err()
}

func unquote(value string) string {
	if len(value) >= 2 {
		first, last := value[0], value[len(value)-1]
		if first == last && (first == '"' || first == '\'') {
			return value[1 : len(value)-1]
		}
	}
	return value
}

// secretRef reports whether value points at a secret store and returns it in the
// canonical secret:// form. The older sm:// scheme is still accepted.
func secretRef(value string) (string, bool) {
	value = strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(value, "secret://"):
		return value, true
	case strings.HasPrefix(value, "sm://"):
		return "secret://" + value[len("sm://"):], true
	}
	return "", false
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	ref, ok := secretRef(value)
	if !ok {
		return value, nil
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []missingSecret
	seen := make(map[string]bool, len(required))
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if strings.TrimSpace(resolved[name]) == "" {
			missing = append(missing, missingSecret{name: name, redacted: redactSecretName(name)})
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

// redactSecretName hashes a field name so it can be logged without naming the secret.
func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
