package search

import (
	"context"
	"fmt"

	"bloodlink/api/internal/store"
	"github.com/sirupsen/logrus"
)

// UserStore is the authoritative user table the directory reads from.
type UserStore interface {
	ListUsers(ctx context.Context, filter store.UserFilter) ([]store.User, error)
}

// Service answers directory searches from the index when it is healthy and
// from the store otherwise. Results always come from the store, so an index
// that lags behind never serves stale activation or blood type data.
type Service struct {
	index  Index
	users  UserStore
	logger logrus.FieldLogger
}

// NewService builds the facade. index may be nil when Meilisearch is not configured.
func NewService(index Index, users UserStore, logger logrus.FieldLogger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{index: index, users: users, logger: logger.WithField("component", "search")}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

// SearchUsers lists users matching q.
func (s *Service) SearchUsers(ctx context.Context, q Query) ([]store.User, error) {
	if q.Text != "" && s.indexReady() {
		users, err := s.searchIndex(ctx, q)
		if err == nil {
			return users, nil
		}
		s.logger.WithError(err).Warn("meilisearch search failed, falling back to store")
	}
	users, err := s.users.ListUsers(ctx, store.UserFilter{Role: q.Role, Query: q.Text, Limit: q.limit(), Offset: q.Offset})
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Service) searchIndex(ctx context.Context, q Query) ([]store.User, error) {
	ids, err := s.index.SearchUserIDs(q)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []store.User{}, nil
	}
	users, err := s.users.ListUsers(ctx, store.UserFilter{Role: q.Role, IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("load indexed users: %w", err)
	}
	byID := make(map[string]store.User, len(users))
	for _, user := range users {
		byID[user.ID] = user
	}
	ordered := make([]store.User, 0, len(users))
	for _, id := range ids {
		if user, ok := byID[id]; ok {
			ordered = append(ordered, user)
		}
	}
	return ordered, nil
}

// IndexUser pushes one user to the index in the background.
func (s *Service) IndexUser(user store.User) {
	if !s.indexReady() {
		return
	}
	record := RecordFromUser(user)
	go func() {
		if err := s.index.IndexUsers([]UserRecord{record}); err != nil {
			s.logger.WithError(err).WithField("user_id", record.ID).Warn("index user failed")
		}
	}()
}

// ReindexAll pushes every user in the store to the index.
func (s *Service) ReindexAll(ctx context.Context) error {
	if !s.indexReady() {
		return nil
	}
	users, err := s.users.ListUsers(ctx, store.UserFilter{})
	if err != nil {
		return fmt.Errorf("load users for reindex: %w", err)
	}
	records := make([]UserRecord, 0, len(users))
	for _, user := range users {
		records = append(records, RecordFromUser(user))
	}
	if err := s.index.IndexUsers(records); err != nil {
		return fmt.Errorf("reindex users: %w", err)
	}
	s.logger.WithField("users", len(records)).Info("users reindexed")
	return nil
}
