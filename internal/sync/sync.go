// Package sync implements C10: cursor-paginated event replay and
// cross-session ancestor fetch.
//
// It is a thin wrapper over internal/eventstore's ordering guarantees —
// events_since/events_history delegate directly to eventstore.Store, which
// already orders by (sequence) within a session and (timestamp, id)
// globally. No third-party library owns plain pagination arithmetic, so
// this stays standard-library only.
package sync

import (
	"context"

	"github.com/kilnlabs/sessiond/internal/eventstore"
	"github.com/kilnlabs/sessiond/internal/model"
)

// Service exposes the sync RPC methods' business logic, independent of the
// JSON-RPC transport.
type Service struct {
	events *eventstore.Store
}

// New builds a Service over the shared event store.
func New(events *eventstore.Store) *Service {
	return &Service{events: events}
}

// HistoryPage is the result of events.history / events.list.
type HistoryPage struct {
	Events       []*model.Event `json:"events"`
	HasMore      bool           `json:"hasMore"`
	OldestEventID string        `json:"oldestEventId"`
}

// History returns a page of a session's events older than beforeEventID
// (or the most recent page if empty), newest-complete-page-first per
// spec's events.list contract.
func (s *Service) History(ctx context.Context, sessionID, beforeEventID string, limit int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = 100
	}
	events, err := s.events.GetEventsBySession(ctx, sessionID, eventstore.SessionBounds{BeforeEventID: beforeEventID})
	if err != nil {
		return nil, err
	}
	hasMore := len(events) > limit
	if hasMore {
		events = events[len(events)-limit:]
	}
	page := &HistoryPage{Events: events, HasMore: hasMore}
	if len(events) > 0 {
		page.OldestEventID = events[0].ID
	}
	return page, nil
}

// SincePage is the result of events.since / events.getSince.
type SincePage struct {
	Events  []*model.Event `json:"events"`
	HasMore bool           `json:"hasMore"`
}

// Since returns events strictly after cursor, scoped to sessionID when
// non-empty, otherwise across every session in (timestamp, id) order.
func (s *Service) Since(ctx context.Context, sessionID string, cursor *model.Cursor, limit int) (*SincePage, error) {
	page, err := s.events.EventsSince(ctx, sessionID, cursor, limit)
	if err != nil {
		return nil, err
	}
	return &SincePage{Events: page.Events, HasMore: page.HasMore}, nil
}

// Ancestors returns the full root-ward chain for eventID, ignoring session
// boundaries, used by forked sessions catching up on shared history.
func (s *Service) Ancestors(ctx context.Context, eventID string) ([]*model.Event, error) {
	return s.events.Ancestors(ctx, eventID)
}
