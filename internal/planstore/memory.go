package planstore

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dgallion1/mdplan/internal/plan"
)

// DefaultCacheSize is the number of plans the memory backend keeps.
const DefaultCacheSize = 256

// artifactsPerPlan sizes the artifact cache relative to the plan cache.
const artifactsPerPlan = 64

// Memory is an in-process Store with LRU eviction. Plans are held encoded
// so every backend returns the same shape.
type Memory struct {
	mu        sync.Mutex
	plans     *lru.Cache[string, []byte]
	artifacts *lru.Cache[string, string]
}

// NewMemory creates a memory store holding up to size plans.
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	plans, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	artifacts, err := lru.New[string, string](size * artifactsPerPlan)
	if err != nil {
		return nil, err
	}
	return &Memory{plans: plans, artifacts: artifacts}, nil
}

func (m *Memory) GetPlan(_ context.Context, hash string) (*plan.Plan, error) {
	m.mu.Lock()
	data, ok := m.plans.Get(hash)
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodePlan(data)
}

func (m *Memory) PutPlan(_ context.Context, p *plan.Plan) error {
	data, err := encodePlan(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.plans.Get(p.ContentHash); ok {
		if old, err := decodePlan(prev); err != nil || staleArtifacts(old, p) {
			m.dropArtifacts(p.ContentHash)
		}
	}
	m.plans.Add(p.ContentHash, data)
	return nil
}

func (m *Memory) DeletePlan(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.plans.Remove(hash) {
		return ErrNotFound
	}
	m.dropArtifacts(hash)
	return nil
}

func (m *Memory) GetArtifact(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.artifacts.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	return text, nil
}

func (m *Memory) PutArtifact(_ context.Context, key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts.Add(key, text)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans.Purge()
	m.artifacts.Purge()
	return nil
}

// dropArtifacts must be called with mu held.
func (m *Memory) dropArtifacts(hash string) {
	prefix := artifactPrefix(hash)
	for _, k := range m.artifacts.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.artifacts.Remove(k)
		}
	}
}
