package tracker

import (
	"context"
	"strings"
)

// RequestFeedback asks the generator to comment on week's review. It returns
// once the request is issued; the text lands in the week's Feedback field
// when it arrives, unless the cycle or session changed in the meantime.
// Feedback is kept in memory only.
func (s *Store) RequestFeedback(week int) error {
	if s.gen == nil {
		return ErrNoGenerator
	}
	s.mu.Lock()
	scope, w, err := s.weekLocked(week)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	hasReview := false
	for _, r := range w.Review {
		if strings.TrimSpace(r) != "" {
			hasReview = true
			break
		}
	}
	if !hasReview {
		s.mu.Unlock()
		return ErrNoReviews
	}
	prompt, err := renderFeedbackPrompt(week, s.state.Goals, w)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	ok := s.work.spawn(func() {
		text, err := s.gen.Generate(context.Background(), prompt)
		if s.metrics != nil {
			s.metrics.ObserveFeedback(err)
		}
		if err != nil {
			s.log.Printf("%v", &FeedbackError{Week: week, Err: err})
			return
		}

		s.mu.Lock()
		if s.epoch != scope.epoch {
			s.mu.Unlock()
			s.log.Printf("tracker: dropping feedback for week %d; cycle changed", week)
			return
		}
		cur := s.state.Weeks[week]
		cur.Feedback = text
		s.state.Weeks[week] = cur
		s.mu.Unlock()
		s.publish()
	})
	if !ok {
		return ErrClosed
	}
	return nil
}
