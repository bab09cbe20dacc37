package store

import (
	"encoding/json"
	"time"

	"go.etcd.io/bbolt"
)

// idempotencyRecord remembers which race a POST /race idempotency token
// already created, so a retried request returns the original race instead
// of creating a duplicate.
type idempotencyRecord struct {
	RaceID    string    `json:"race_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

const idempotencyTTL = 24 * time.Hour

// ReserveIdempotencyToken returns the race ID already associated with token,
// or ("", false) if the token is new or expired, in which case it is
// immediately reserved for raceID.
func (s *Store) ReserveIdempotencyToken(token, raceID string, now time.Time) (string, bool, error) {
	if token == "" {
		return "", false, nil
	}
	var existing string
	found := false
	err := s.db.Batch(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIdempotency)
		v := b.Get([]byte(token))
		if v != nil {
			var rec idempotencyRecord
			if err := json.Unmarshal(v, &rec); err == nil && now.Before(rec.ExpiresAt) {
				existing = rec.RaceID
				found = true
				return nil
			}
		}
		data, err := json.Marshal(idempotencyRecord{RaceID: raceID, ExpiresAt: now.Add(idempotencyTTL)})
		if err != nil {
			return err
		}
		return b.Put([]byte(token), data)
	})
	return existing, found, err
}

// SweepExpiredIdempotencyTokens is called hourly by a cron job in
// internal/app; bbolt has no native TTL so expiry is swept rather than
// enforced on read alone, keeping the bucket from growing unbounded.
func (s *Store) SweepExpiredIdempotencyTokens(now time.Time) (int, error) {
	removed := 0
	err := s.db.Batch(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIdempotency)
		c := b.Cursor()
		var dead [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec idempotencyRecord
			if err := json.Unmarshal(v, &rec); err != nil || !now.Before(rec.ExpiresAt) {
				dead = append(dead, append([]byte(nil), k...))
			}
		}
		for _, k := range dead {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
