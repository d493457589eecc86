// Package secrets implements the secret store port: a short-TTL in-memory
// cache in front of an .env file fallback, per §6. Missing keys are
// Critical errors — callers are never meant to treat a secret as optional.
package secrets

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"collabiq/internal/apperr"
)

const defaultTTL = 5 * time.Minute

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// Store is a TTL-cached secret store backed by a .env file, the same
// fallback mechanism the teacher's config loader uses for local
// development credentials.
type Store struct {
	mu       sync.RWMutex
	cache    map[string]cacheEntry
	ttl      time.Duration
	envVars  map[string]string
	envPath  string
	loaded   bool
}

// New creates a Store that falls back to the .env file at envPath (loaded
// lazily on first Get) and then the process environment.
func New(envPath string) *Store {
	return &Store{
		cache:   make(map[string]cacheEntry),
		ttl:     defaultTTL,
		envPath: envPath,
	}
}

func (s *Store) ensureLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return
	}
	s.loaded = true
	vars, err := godotenv.Read(s.envPath)
	if err != nil {
		s.envVars = map[string]string{}
		return
	}
	s.envVars = vars
}

// Get resolves key, checking the TTL cache first, then the .env file, then
// the process environment. A key found nowhere is a Critical error.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	if entry, ok := s.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		s.mu.RUnlock()
		return entry.value, nil
	}
	s.mu.RUnlock()

	s.ensureLoaded()

	s.mu.RLock()
	value, ok := s.envVars[key]
	s.mu.RUnlock()
	if !ok {
		if v, present := os.LookupEnv(key); present {
			value, ok = v, true
		}
	}
	if !ok {
		return "", apperr.NewCritical("secrets", fmt.Sprintf("missing required secret %q", key), nil)
	}

	s.mu.Lock()
	s.cache[key] = cacheEntry{value: value, expiresAt: time.Now().Add(s.ttl)}
	s.mu.Unlock()

	return value, nil
}
