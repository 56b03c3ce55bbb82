package tracker

import (
	"context"

	"github.com/zulandar/great12/internal/mapper"
	"github.com/zulandar/great12/internal/view"
)

// FetchHistory lists the user's archived cycles with their goals, newest
// first. Read failures are logged and yield an empty list.
func (s *Store) FetchHistory(ctx context.Context) ([]view.HistoryCycle, error) {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil, ErrNoSession
	}
	userID := s.session.UserID
	s.mu.Unlock()

	cycles, err := s.records.ArchivedCycles(ctx, userID)
	if err != nil {
		s.log.Printf("tracker: fetch history for %s: %v", userID, err)
		return []view.HistoryCycle{}, nil
	}
	history, err := mapper.HistoryFromRows(cycles)
	if err != nil {
		s.log.Printf("tracker: map history for %s: %v", userID, err)
		return []view.HistoryCycle{}, nil
	}
	return history, nil
}
