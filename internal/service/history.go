package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartflow/crm-chat/internal/model"
	"github.com/smartflow/crm-chat/internal/store"
)

// HistoryService reads conversations one page at a time.
type HistoryService struct {
	store       store.Store
	defaultPage int
	maxPage     int
}

// NewHistoryService creates a history service with the given page bounds.
func NewHistoryService(s store.Store, defaultPage, maxPage int) *HistoryService {
	if defaultPage <= 0 {
		defaultPage = 50
	}
	if maxPage < defaultPage {
		maxPage = defaultPage
	}
	return &HistoryService{store: s, defaultPage: defaultPage, maxPage: maxPage}
}

// GetHistory returns the newest page of the conversation between a and b that
// precedes before, oldest message first. An empty before starts at the newest message.
func (s *HistoryService) GetHistory(ctx context.Context, a, b, before string, limit int) (*model.HistoryPage, error) {
	if err := model.ValidateIdentity(a); err != nil {
		return nil, err
	}
	if err := model.ValidateIdentity(b); err != nil {
		return nil, err
	}
	if a == b {
		return nil, model.ErrSameParticipant
	}

	page, err := s.store.FindConversation(ctx, a, b, store.Page{Before: before, Limit: s.clamp(limit)})
	if errors.Is(err, store.ErrInvalidCursor) {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidMessage, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return page, nil
}

func (s *HistoryService) clamp(limit int) int {
	switch {
	case limit <= 0:
		return s.defaultPage
	case limit > s.maxPage:
		return s.maxPage
	default:
		return limit
	}
}
