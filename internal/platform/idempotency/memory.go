package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-replica Store for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]Record{}}
}

func (s *MemoryStore) locked(fn func(records map[string]Record) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.records)
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (res Reservation, err error) {
	err = s.locked(func(records map[string]Record) error {
		id := recordID(key)
		if prev, found := records[id]; found && !prev.expired(now.UTC()) {
			res, err = reservationFor(prev, fingerprint)
			return err
		}
		fresh := pendingRecord(key, fingerprint, now.UTC(), effectiveTTL(ttl))
		records[id] = fresh
		res = Reservation{State: ReservationStateNew, Record: fresh}
		return nil
	})
	return res, err
}

// SaveResponse completes the pending record. A record that already expired and was swept is
// recreated so the response is still replayable.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	return s.locked(func(records map[string]Record) error {
		id := recordID(key)
		rec, found := records[id]
		switch {
		case !found:
			rec = Record{Key: key, Fingerprint: fingerprint}
		case rec.Fingerprint != fingerprint:
			return ErrFingerprintMismatch
		}
		rec.complete(resp, now.UTC(), effectiveTTL(ttl))
		records[id] = rec
		return nil
	})
}

func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	return s.locked(func(records map[string]Record) error {
		delete(records, recordID(key))
		return nil
	})
}

// CleanupExpired removes at most limit expired records, or all of them when limit <= 0.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (removed int, err error) {
	err = s.locked(func(records map[string]Record) error {
		for id, rec := range records {
			if limit > 0 && removed == limit {
				return nil
			}
			if rec.expired(now.UTC()) {
				delete(records, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}
