package credentials

import (
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
)

// Store holds external-service credentials that enriched generation requests
// forward to the upstream. Providers are lower-case names such as "gemini".
type Store struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewStore() *Store {
	return &Store{tokens: make(map[string]string)}
}

// FromEnv seeds a store from variables named prefix+PROVIDER, for example
// PROVIDER_TOKEN_GEMINI=abc registers provider "gemini".
func FromEnv(prefix string, environ []string) *Store {
	s := NewStore()
	if prefix == "" {
		return s
	}
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		provider := strings.ToLower(strings.TrimPrefix(name, prefix))
		_ = s.Set(provider, value)
	}
	return s
}

// FromProcessEnv is FromEnv over os.Environ.
func FromProcessEnv(prefix string) *Store {
	return FromEnv(prefix, os.Environ())
}

// Token returns the stored token for provider, or "" when none is set.
func (s *Store) Token(provider string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[normalizeProvider(provider)]
}

func (s *Store) Set(provider, token string) error {
	provider = normalizeProvider(provider)
	token = strings.TrimSpace(token)
	if provider == "" {
		return errors.New("provider is required")
	}
	if token == "" {
		return errors.New("token is required")
	}
	s.mu.Lock()
	s.tokens[provider] = token
	s.mu.Unlock()
	return nil
}

func (s *Store) Delete(provider string) {
	s.mu.Lock()
	delete(s.tokens, normalizeProvider(provider))
	s.mu.Unlock()
}

// Providers lists configured provider names in sorted order.
func (s *Store) Providers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.tokens))
	for p := range s.tokens {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Snapshot copies the current tokens.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.tokens))
	for p, t := range s.tokens {
		out[p] = t
	}
	return out
}

func normalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
