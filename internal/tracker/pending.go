package tracker

import "fmt"

// pendingWrite counts queued writes to one field and holds the last value
// the record store accepted for it.
type pendingWrite struct {
	confirmed any
	queued    int
}

// fieldKey scopes field to the epoch the write was issued in.
func fieldKey(scope writeScope, field string) string {
	return fmt.Sprintf("%d/%s", scope.epoch, field)
}

// trackLocked registers one queued write to key. base is the field's value
// before the write; it is the confirmed value until some write succeeds.
func (s *Store) trackLocked(key string, base any) {
	p, ok := s.pending[key]
	if !ok {
		p = &pendingWrite{confirmed: base}
		s.pending[key] = p
	}
	p.queued++
}

// settleLocked records the outcome of one write to key. It returns the
// confirmed value and true when no other write to key is still queued.
func (s *Store) settleLocked(key string, ok bool, written any) (any, bool) {
	p := s.pending[key]
	if p == nil {
		return nil, false
	}
	if ok {
		p.confirmed = written
	}
	p.queued--
	if p.queued > 0 {
		return nil, false
	}
	delete(s.pending, key)
	return p.confirmed, true
}

// trackField must be called with s.mu held, at the moment the optimistic
// value is applied. It returns the onOK and onFail handlers for the write.
// When the last queued write to the field fails under the rollback policy,
// restore receives the value the record store last accepted.
func trackField[T any](s *Store, scope writeScope, field string, base, written T, restore func(confirmed T)) (func(), func(error)) {
	key := fieldKey(scope, field)
	s.trackLocked(key, base)

	onOK := func() {
		s.mu.Lock()
		s.settleLocked(key, true, written)
		s.mu.Unlock()
	}
	onFail := func(error) {
		s.mu.Lock()
		confirmed, last := s.settleLocked(key, false, nil)
		ran := last && s.rollbackLocked(scope, func() { restore(confirmed.(T)) })
		s.mu.Unlock()
		if ran {
			s.publish()
		}
	}
	return onOK, onFail
}
