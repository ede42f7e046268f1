package app

import (
	"context"
	"errors"

	"quire/api/internal/rbac"
	"quire/api/internal/store"
)

// GetVersions lists a document's versions newest first. limit <= 0 returns
// all of them.
func (s *Service) GetVersions(ctx context.Context, user *Principal, documentID string, limit int) ([]store.Version, error) {
	doc, _, err := s.authorize(ctx, user, documentID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, doc.ID, limit)
	if err != nil {
		return nil, s.backendFailure("list_versions", err)
	}
	if versions == nil {
		versions = []store.Version{}
	}
	return versions, nil
}

func (s *Service) RecentVersions(ctx context.Context, user *Principal, documentID string) ([]store.Version, error) {
	return s.GetVersions(ctx, user, documentID, recentVersionsLimit)
}

func (s *Service) GetVersion(ctx context.Context, user *Principal, documentID string, number int) (store.Version, error) {
	doc, _, err := s.authorize(ctx, user, documentID, rbac.ActionRead)
	if err != nil {
		return store.Version{}, err
	}
	version, err := s.store.GetVersion(ctx, doc.ID, number)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Version{}, notFound("Version")
		}
		return store.Version{}, s.backendFailure("get_version", err)
	}
	return version, nil
}
