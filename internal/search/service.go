package search

import (
	"go.uber.org/zap"
)

type index interface {
	Healthy() bool
	Search(query, userID string, limit int) ([]string, error)
	IndexDocuments(records []DocumentRecord) error
	DeleteDocument(id string) error
}

// Service ranks through Meilisearch when it is healthy. Every method is safe
// to call when no index is configured.
type Service struct {
	index  index
	logger *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, logger *zap.Logger) *Service {
	if meili == nil {
		return &Service{logger: logger}
	}
	return &Service{index: meili, logger: logger}
}

func (s *Service) available() bool {
	return s != nil && s.index != nil && s.index.Healthy()
}

// Available reports whether an index is configured and currently healthy.
func (s *Service) Available() bool {
	return s.available()
}

// Rank returns the index's ordering of documents matching query for userID,
// or nil when the index is unavailable.
func (s *Service) Rank(query, userID string, limit int) []string {
	if !s.available() {
		return nil
	}
	ids, err := s.index.Search(query, userID, limit)
	if err != nil {
		s.logger.Warn("search: meilisearch error, using substring order", zap.Error(err))
		return nil
	}
	return ids
}

// IndexDocument pushes one record without blocking the caller.
func (s *Service) IndexDocument(record DocumentRecord) {
	if !s.available() {
		return
	}
	go func() {
		if err := s.index.IndexDocuments([]DocumentRecord{record}); err != nil {
			s.logger.Warn("search: index document", zap.String("documentId", record.ID), zap.Error(err))
		}
	}()
}

// DeleteDocument removes a document from the index without blocking the caller.
func (s *Service) DeleteDocument(id string) {
	if !s.available() {
		return
	}
	go func() {
		if err := s.index.DeleteDocument(id); err != nil {
			s.logger.Warn("search: delete document", zap.String("documentId", id), zap.Error(err))
		}
	}()
}

// Reindex bulk-loads records synchronously; used at startup.
func (s *Service) Reindex(records []DocumentRecord) {
	if !s.available() || len(records) == 0 {
		return
	}
	if err := s.index.IndexDocuments(records); err != nil {
		s.logger.Warn("search: reindex documents", zap.Int("count", len(records)), zap.Error(err))
		return
	}
	s.logger.Info("search: reindexed documents", zap.Int("count", len(records)))
}
