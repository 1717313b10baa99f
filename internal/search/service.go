package search

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

// Backend is a search index that can also accept writes.
type Backend interface {
	Searcher
	Indexer
}

// RecordLoader reads every indexable text row from the system of record.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]TextRecord, error)
}

// Service is the facade that tries the primary index first and falls back to
// PG FTS.
type Service struct {
	primary  Backend
	fallback Searcher
	loader   RecordLoader
	logger   *zap.Logger
}

// NewService creates a search service. primary may be nil when Meilisearch is
// not configured.
func NewService(primary Backend, fallback Searcher, logger *zap.Logger) *Service {
	s := &Service{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(zap.String("component", "search")),
	}
	if loader, ok := fallback.(RecordLoader); ok {
		s.loader = loader
	}
	return s
}

func (s *Service) primaryReady() bool {
	return s.primary != nil && s.primary.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	q = normalize(q)
	if s.primaryReady() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Count: total, Results: nonNil(results), Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn("primary search failed, falling back to postgres", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: "none"}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("postgres search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: "postgres"}
	}
	return Response{Count: total, Results: nonNil(results), Query: q.Text, Backend: "postgres"}
}

// IndexText pushes one extracted text row to the primary index without
// waiting for the result.
func (s *Service) IndexText(record TextRecord) {
	if !s.primaryReady() {
		return
	}
	if record.ID == "" {
		record.ID = strconv.FormatInt(record.TextID, 10)
	}
	go func() {
		if err := s.primary.IndexTexts([]TextRecord{record}); err != nil {
			s.logger.Warn("index text", zap.Int64("text_id", record.TextID), zap.Error(err))
		}
	}()
}

// DeleteTexts removes text rows from the primary index without waiting.
func (s *Service) DeleteTexts(ids []int64) {
	if len(ids) == 0 || !s.primaryReady() {
		return
	}
	go func() {
		if err := s.primary.DeleteTexts(ids); err != nil {
			s.logger.Warn("delete texts from index", zap.Int64s("text_ids", ids), zap.Error(err))
		}
	}()
}

// ReindexAll reads every text row from Postgres and pushes it to the primary
// index. Called at start-up when the primary index is healthy.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.primaryReady() || s.loader == nil {
		return
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Warn("load texts for reindex", zap.Error(err))
		return
	}
	if err := s.primary.IndexTexts(records); err != nil {
		s.logger.Warn("reindex texts", zap.Error(err))
		return
	}
	s.logger.Info("reindexed uploaded texts", zap.Int("count", len(records)))
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
