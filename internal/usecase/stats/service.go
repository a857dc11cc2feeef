// Package stats reports corpus size and the stored source inventory.
package stats

import (
	"context"
	"fmt"

	"github.com/Triyansha/newsletter-rag/internal/store"
)

// StatsReader exposes store counters and the source inventory.
type StatsReader interface {
	Stats(ctx context.Context) (store.Stats, error)
	ListSources(ctx context.Context) ([]store.SourceInfo, error)
}

// Service reads store statistics.
type Service struct {
	reader StatsReader
}

// New creates a stats service.
func New(reader StatsReader) *Service {
	return &Service{reader: reader}
}

// Get returns document and chunk counts.
func (s *Service) Get(ctx context.Context) (store.Stats, error) {
	st, err := s.reader.Stats(ctx)
	if err != nil {
		return store.Stats{}, fmt.Errorf("read stats: %w", err)
	}
	return st, nil
}

// Newsletters lists the stored sources, newest first.
func (s *Service) Newsletters(ctx context.Context) ([]store.SourceInfo, error) {
	infos, err := s.reader.ListSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return infos, nil
}
