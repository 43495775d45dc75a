package grocery

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/logger"
)

// Lists is the persistence port for versioned grocery lists, satisfied
// by the mongodb grocery repository.
type Lists interface {
	Create(ctx context.Context, userID, name string, items []domain.GroceryItem) (domain.GroceryList, error)
	GetByName(ctx context.Context, userID, name string) (domain.GroceryList, error)
	ListByUser(ctx context.Context, userID string) ([]domain.GroceryList, error)
	// ReplaceItems commits the new item set only if the list is still at
	// expectedVersion; a stale version fails with version_conflict.
	ReplaceItems(ctx context.Context, userID, name string, items []domain.GroceryItem, expectedVersion int64) (domain.GroceryList, error)
	Delete(ctx context.Context, userID, name string) error
}

const (
	maxListNameLen  = 100
	maxItemsPerList = 500
	maxItemNameLen  = 200
)

// Service applies list-level validation in front of the repository.
// Version conflicts surface to the caller unchanged: the client read
// the list, so the client decides how to merge.
type Service struct {
	lists Lists
	log   zerolog.Logger
}

func NewService(lists Lists) *Service {
	return &Service{lists: lists, log: logger.Component("grocery")}
}

// Create makes a new list for the user. List names are unique per user;
// a duplicate fails with list_already_exists.
func (s *Service) Create(ctx context.Context, userID, name string, items []domain.GroceryItem) (domain.GroceryList, error) {
	name = strings.TrimSpace(name)
	if err := validateName(name); err != nil {
		return domain.GroceryList{}, err
	}
	items, err := normalizeItems(items)
	if err != nil {
		return domain.GroceryList{}, err
	}

	l, err := s.lists.Create(ctx, userID, name, items)
	if err != nil {
		return domain.GroceryList{}, err
	}
	s.log.Info().Str("user_id", userID).Str("list", name).Int("items", len(items)).Msg("grocery list created")
	return l, nil
}

func (s *Service) Get(ctx context.Context, userID, name string) (domain.GroceryList, error) {
	return s.lists.GetByName(ctx, userID, name)
}

func (s *Service) List(ctx context.Context, userID string) ([]domain.GroceryList, error) {
	return s.lists.ListByUser(ctx, userID)
}

// Update replaces the list's items at exactly expectedVersion. The
// caller echoes back the version it read; concurrent writers serialize
// through version_conflict rather than losing updates.
func (s *Service) Update(ctx context.Context, userID, name string, items []domain.GroceryItem, expectedVersion int64) (domain.GroceryList, error) {
	if expectedVersion < 1 {
		return domain.GroceryList{}, domain.ErrInvalidField("expected_version", "must be at least 1")
	}
	items, err := normalizeItems(items)
	if err != nil {
		return domain.GroceryList{}, err
	}

	l, err := s.lists.ReplaceItems(ctx, userID, name, items, expectedVersion)
	if err != nil {
		if domain.Is(err, "version_conflict") {
			s.log.Debug().Str("user_id", userID).Str("list", name).
				Int64("expected_version", expectedVersion).Msg("stale grocery list write rejected")
		}
		return domain.GroceryList{}, err
	}
	return l, nil
}

// AddItem is the read-modify-write convenience over Update: it appends
// one item at the version the list currently holds. A racing writer
// still surfaces as version_conflict.
func (s *Service) AddItem(ctx context.Context, userID, name string, item domain.GroceryItem) (domain.GroceryList, error) {
	l, err := s.lists.GetByName(ctx, userID, name)
	if err != nil {
		return domain.GroceryList{}, err
	}
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}
	return s.Update(ctx, userID, name, append(l.Items, item), l.Version)
}

func (s *Service) Delete(ctx context.Context, userID, name string) error {
	if err := s.lists.Delete(ctx, userID, name); err != nil {
		return err
	}
	s.log.Info().Str("user_id", userID).Str("list", name).Msg("grocery list deleted")
	return nil
}

func validateName(name string) error {
	if name == "" {
		return domain.ErrMissingField("name")
	}
	if len(name) > maxListNameLen {
		return domain.ErrInvalidField("name", "too long")
	}
	return nil
}

func normalizeItems(items []domain.GroceryItem) ([]domain.GroceryItem, error) {
	if len(items) > maxItemsPerList {
		return nil, domain.ErrInvalidField("items", "too many items")
	}
	out := make([]domain.GroceryItem, 0, len(items))
	now := time.Now().UTC()
	for _, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		if it.Name == "" {
			return nil, domain.ErrMissingField("items.name")
		}
		if len(it.Name) > maxItemNameLen {
			return nil, domain.ErrInvalidField("items.name", "too long")
		}
		if it.Quantity < 0 {
			return nil, domain.ErrInvalidField("items.quantity", "must not be negative")
		}
		if it.AddedAt.IsZero() {
			it.AddedAt = now
		}
		out = append(out, it)
	}
	return out, nil
}
