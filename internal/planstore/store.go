// Package planstore persists chunk plans and the per-chunk artifacts
// produced from them, keyed by document content hash.
package planstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dgallion1/mdplan/internal/plan"
)

// ErrNotFound is returned when no plan or artifact exists for a key.
var ErrNotFound = errors.New("planstore: not found")

// Store holds plans and artifacts. Artifact keys always start with the
// document hash followed by a slash.
type Store interface {
	GetPlan(ctx context.Context, hash string) (*plan.Plan, error)
	// PutPlan stores p under its content hash. When a plan already exists
	// for that hash with different chunk content, every artifact under the
	// hash is dropped.
	PutPlan(ctx context.Context, p *plan.Plan) error
	DeletePlan(ctx context.Context, hash string) error
	GetArtifact(ctx context.Context, key string) (string, error)
	PutArtifact(ctx context.Context, key, text string) error
	Close() error
}

// Kinds accepted by Open.
const (
	KindMemory = "memory"
	KindSQLite = "sqlite"
	KindRedis  = "redis"
)

// Open returns the backend named by kind. dsn is the sqlite file path or
// the redis address/URL; cacheSize bounds the memory backend.
func Open(ctx context.Context, kind, dsn string, cacheSize int) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindMemory:
		return NewMemory(cacheSize)
	case KindSQLite:
		return NewSQLite(ctx, dsn)
	case KindRedis:
		return NewRedis(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown plan store %q", kind)
	}
}

// ArtifactKey builds the cache key for one (chunk, part) output. A changed
// chunk or prompt yields a new key, so stale output is never reused.
func ArtifactKey(docHash, chunkID, chunkHash, partHash string) string {
	return docHash + "/" + chunkID + "/" + short(chunkHash) + "/" + short(partHash)
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

func artifactPrefix(hash string) string {
	return hash + "/"
}

// chunkHashes lists the content hash of every chunk, in order.
func chunkHashes(p *plan.Plan) []string {
	out := make([]string, len(p.Chunks))
	for i, r := range p.Chunks {
		out[i] = r.ContentHash
	}
	return out
}

func encodePlan(p *plan.Plan) ([]byte, error) {
	if p == nil || p.ContentHash == "" {
		return nil, errors.New("plan has no content hash")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return data, nil
}

func decodePlan(data []byte) (*plan.Plan, error) {
	var p plan.Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}

// staleArtifacts reports whether replacing old with next invalidates the
// artifacts stored for the hash.
func staleArtifacts(old, next *plan.Plan) bool {
	return !slices.Equal(chunkHashes(old), chunkHashes(next))
}
