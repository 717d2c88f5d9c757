// Package secrets resolves API keys for embedding and chat providers. Keys
// are looked up from the environment first and fall back to the database's
// ai.reveal_secret function, so deployments can keep keys in either place.
package secrets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/vectorsync-ai/vectorsync/internal/vectorizer"
)

// ErrSecretNotFound is returned when no source yields a value for the key.
var ErrSecretNotFound = errors.New("secret not found")

// Resolver resolves a named secret to its value.
type Resolver interface {
	// Resolve returns the secret value. literal wins when non-empty, then
	// the environment variable or database secret called name, then the
	// one called defaultName.
	Resolve(ctx context.Context, literal, name, defaultName string) (string, error)
}

// DBResolver resolves secrets from the environment with an ai.reveal_secret
// database fallback. Resolved values are cached for the resolver's lifetime;
// one resolver is created per worker run, so rotation takes effect on the
// next poll loop.
type DBResolver struct {
	db vectorizer.DB

	mu    sync.Mutex
	cache map[cacheKey]string
}

type cacheKey struct {
	literal     string
	name        string
	defaultName string
}

// NewDBResolver creates a resolver backed by the environment and db. db may
// be nil, in which case only the environment is consulted.
func NewDBResolver(db vectorizer.DB) *DBResolver {
	return &DBResolver{db: db, cache: make(map[cacheKey]string)}
}

// Resolve implements Resolver.
func (r *DBResolver) Resolve(ctx context.Context, literal, name, defaultName string) (string, error) {
	key := cacheKey{literal: literal, name: name, defaultName: defaultName}

	r.mu.Lock()
	if v, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	value, err := r.resolve(ctx, literal, name, defaultName)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()
	return value, nil
}

func (r *DBResolver) resolve(ctx context.Context, literal, name, defaultName string) (string, error) {
	if literal != "" {
		return literal, nil
	}

	for _, n := range []string{name, defaultName} {
		if n == "" {
			continue
		}
		if v := os.Getenv(n); v != "" {
			return v, nil
		}
		v, err := r.revealSecret(ctx, n)
		if err != nil {
			return "", err
		}
		if v != "" {
			return v, nil
		}
	}

	return "", fmt.Errorf("%w: tried %q and %q", ErrSecretNotFound, name, defaultName)
}

// revealSecret reads a secret through ai.reveal_secret. A missing function
// or missing secret both resolve to empty so the next source is tried.
func (r *DBResolver) revealSecret(ctx context.Context, name string) (string, error) {
	if r.db == nil {
		return "", nil
	}

	var value sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT ai.reveal_secret($1, false)", name).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		// The function is optional; without it the environment is the
		// only source.
		return "", nil
	}
	if !value.Valid {
		return "", nil
	}
	return value.String, nil
}

// StaticResolver returns fixed values by name. Used in tests.
type StaticResolver map[string]string

// Resolve implements Resolver.
func (s StaticResolver) Resolve(_ context.Context, literal, name, defaultName string) (string, error) {
	if literal != "" {
		return literal, nil
	}
	if v, ok := s[name]; ok {
		return v, nil
	}
	if v, ok := s[defaultName]; ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}
