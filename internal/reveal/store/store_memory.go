package store

import (
	"context"
	"fmt"
	"sync"

	"veil/internal/reveal"
	id "veil/pkg/domain"
	"veil/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used by tests and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[id.RevealRequestID]reveal.Request
	artifacts map[id.RevealRequestID]reveal.Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[id.RevealRequestID]reveal.Request),
		artifacts: make(map[id.RevealRequestID]reveal.Artifact),
	}
}

func (s *MemoryStore) Create(_ context.Context, r reveal.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[r.ID]; ok {
		return fmt.Errorf("reveal request %s: %w", r.ID, sentinel.ErrConflict)
	}
	for _, existing := range s.requests {
		if existing.Handle == r.Handle && !existing.Stage.Terminal() {
			return fmt.Errorf("active reveal for handle %s: %w", r.Handle, sentinel.ErrConflict)
		}
	}
	s.requests[r.ID] = r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, requestID id.RevealRequestID) (reveal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[requestID]
	if !ok {
		return reveal.Request{}, fmt.Errorf("reveal request %s: %w", requestID, sentinel.ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) GetActiveByHandle(_ context.Context, handle id.Handle) (reveal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.requests {
		if r.Handle == handle && !r.Stage.Terminal() {
			return r, nil
		}
	}
	return reveal.Request{}, fmt.Errorf("active reveal for handle %s: %w", handle, sentinel.ErrNotFound)
}

func (s *MemoryStore) UpdateStage(_ context.Context, r reveal.Request, fromStage reveal.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[r.ID]
	if !ok {
		return fmt.Errorf("reveal request %s: %w", r.ID, sentinel.ErrNotFound)
	}
	if current.Stage != fromStage {
		return fmt.Errorf("reveal request %s stage moved to %s: %w", r.ID, current.Stage, sentinel.ErrConflict)
	}
	s.requests[r.ID] = r
	return nil
}

func (s *MemoryStore) ListInStage(_ context.Context, stage reveal.Stage) ([]reveal.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []reveal.Request
	for _, r := range s.requests {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveArtifact(_ context.Context, requestID id.RevealRequestID, a reveal.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[requestID]; !ok {
		return fmt.Errorf("reveal request %s: %w", requestID, sentinel.ErrNotFound)
	}
	s.artifacts[requestID] = a
	return nil
}

func (s *MemoryStore) GetArtifact(_ context.Context, requestID id.RevealRequestID) (reveal.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[requestID]
	if !ok {
		return reveal.Artifact{}, fmt.Errorf("artifact for reveal request %s: %w", requestID, sentinel.ErrNotFound)
	}
	return a, nil
}
