// Package store is the durable persistence layer (spec C1): every race,
// cluster, and source-stats record that must survive a restart lives in a
// single bbolt file, transacted the way the teacher's resource manager
// checkpoints state to disk — one writer, ACID batches, JSON values.
package store

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/raceboard/server/internal/apperr"
	"github.com/raceboard/server/internal/race"
	"github.com/raceboard/server/internal/telemetry/logging"
)

var (
	bucketRaces        = []byte("races")
	bucketRacesByTime  = []byte("races_by_time")
	bucketClusters     = []byte("clusters")
	bucketSourceStats  = []byte("source_stats")
	bucketIdempotency  = []byte("idempotency")
	bucketMeta         = []byte("meta")
)

const schemaVersion = 1

type Store struct {
	db       *bbolt.DB
	log      logging.Logger
	readOnly bool
}

type Options struct {
	Path            string
	ReadOnly        bool
	FlushBatch      int
	FlushIntervalMs int
	Logger          logging.Logger
}

func Open(opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Noop()
	}
	db, err := bbolt.Open(opts.Path, 0o600, &bbolt.Options{
		Timeout:  2 * time.Second,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "open storage file", err)
	}
	if opts.FlushBatch > 0 {
		db.MaxBatchSize = opts.FlushBatch
	}
	if opts.FlushIntervalMs > 0 {
		db.MaxBatchDelay = time.Duration(opts.FlushIntervalMs) * time.Millisecond
	}

	s := &Store{db: db, log: log, readOnly: opts.ReadOnly}
	if !opts.ReadOnly {
		if err := s.ensureBuckets(); err != nil {
			db.Close()
			return nil, err
		}
		if err := s.repair(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRaces, bucketRacesByTime, bucketClusters, bucketSourceStats, bucketIdempotency, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get([]byte("schema_version")) == nil {
			v := make([]byte, 8)
			binary.BigEndian.PutUint64(v, schemaVersion)
			return meta.Put([]byte("schema_version"), v)
		}
		return nil
	})
}

// repair runs at startup and drops any race record that fails to decode,
// logging its key instead of refusing to start. A partially-written value
// from a crash mid-write is local state loss, not a reason to brick the
// server per spec.md's Corrupt handling.
func (s *Store) repair() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRaces)
		c := b.Cursor()
		var badKeys [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r race.Race
			if err := json.Unmarshal(v, &r); err != nil {
				s.log.Warn("dropping corrupt race record", "key", string(k), "err", err)
				badKeys = append(badKeys, append([]byte(nil), k...))
			}
		}
		for _, k := range badKeys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func timeKey(t time.Time, id string) []byte {
	buf := make([]byte, 8+len(id))
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	copy(buf[8:], id)
	return buf
}

// PutRace upserts a race record and its secondary time index entry in one
// transaction so readers never see one without the other.
func (s *Store) PutRace(r *race.Race) error {
	if s.readOnly {
		return apperr.New(apperr.ReadOnly, "storage is read-only")
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal race %s: %w", r.ID, err)
	}
	return s.db.Batch(func(tx *bbolt.Tx) error {
		races := tx.Bucket(bucketRaces)
		byTime := tx.Bucket(bucketRacesByTime)

		if prev := races.Get([]byte(r.ID)); prev != nil {
			var old race.Race
			if err := json.Unmarshal(prev, &old); err == nil {
				byTime.Delete(timeKey(old.StartedAt, old.ID))
			}
		}
		if err := races.Put([]byte(r.ID), data); err != nil {
			return err
		}
		return byTime.Put(timeKey(r.StartedAt, r.ID), []byte(r.ID))
	})
}

func (s *Store) GetRace(id string) (*race.Race, error) {
	var r race.Race
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRaces).Get([]byte(id))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &r)
	})
	if err != nil {
		return nil, apperr.Corruptf(id, err)
	}
	if !found {
		return nil, apperr.NotFoundf("race %q not found", id)
	}
	return &r, nil
}

func (s *Store) DeleteRace(id string) error {
	if s.readOnly {
		return apperr.New(apperr.ReadOnly, "storage is read-only")
	}
	return s.db.Batch(func(tx *bbolt.Tx) error {
		races := tx.Bucket(bucketRaces)
		v := races.Get([]byte(id))
		if v == nil {
			return nil
		}
		var r race.Race
		if err := json.Unmarshal(v, &r); err == nil {
			tx.Bucket(bucketRacesByTime).Delete(timeKey(r.StartedAt, r.ID))
		}
		return races.Delete([]byte(id))
	})
}

// ScanFilter bounds a ScanRaces call to a started_at window and/or resumes
// from a previously returned cursor. Cursor takes precedence over From when
// both are set, since it already encodes a position at or after From.
type ScanFilter struct {
	From   time.Time
	To     time.Time
	Cursor string
}

// encodeCursor/decodeCursor make the races_by_time key opaque to callers, as
// required by the scan contract ("cursor is an opaque encoding of the last
// emitted (started_at, id)").
func encodeCursor(key []byte) string {
	return hex.EncodeToString(key)
}

func decodeCursor(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, apperr.Validationf("invalid cursor: %v", err)
	}
	return b, nil
}

func keyNanos(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k[:8]))
}

// ScanRaces walks the secondary time index ascending by (started_at, id),
// the order the cursor contract is defined over. fn is called for each
// decoded race; returning false stops the scan early. The returned cursor
// is non-empty whenever the scan stopped (by limit or by fn returning
// false) with more of the index left to walk, and empty once the index is
// exhausted.
func (s *Store) ScanRaces(filter ScanFilter, limit int, fn func(*race.Race) bool) (string, error) {
	var nextCursor string
	err := s.db.View(func(tx *bbolt.Tx) error {
		races := tx.Bucket(bucketRaces)
		c := tx.Bucket(bucketRacesByTime).Cursor()

		var k, idBytes []byte
		switch {
		case filter.Cursor != "":
			after, err := decodeCursor(filter.Cursor)
			if err != nil {
				return err
			}
			k, idBytes = c.Seek(after)
			if k != nil && string(k) == string(after) {
				k, idBytes = c.Next()
			}
		case !filter.From.IsZero():
			k, idBytes = c.Seek(timeKey(filter.From, ""))
		default:
			k, idBytes = c.First()
		}

		var last []byte
		n := 0
		for k != nil {
			if !filter.To.IsZero() && keyNanos(k) > filter.To.UnixNano() {
				return nil
			}
			if limit > 0 && n >= limit {
				nextCursor = encodeCursor(last)
				return nil
			}
			v := races.Get(idBytes)
			if v == nil {
				k, idBytes = c.Next()
				continue
			}
			var r race.Race
			if err := json.Unmarshal(v, &r); err != nil {
				s.log.Warn("skipping corrupt race during scan", "id", string(idBytes), "err", err)
				k, idBytes = c.Next()
				continue
			}
			n++
			last = k
			if !fn(&r) {
				if next, _ := c.Next(); next != nil {
					nextCursor = encodeCursor(k)
				}
				return nil
			}
			k, idBytes = c.Next()
		}
		return nil
	})
	return nextCursor, err
}

func (s *Store) RaceCount() (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketRaces).Stats().KeyN
		return nil
	})
	return n, err
}

// auditRecord is written to meta/audit/* whenever an admin action mutates
// durable state outside the normal ingestion path, so a purge can be traced
// after the fact.
type auditRecord struct {
	Action    string    `json:"action"`
	RaceIDs   []string  `json:"race_ids"`
	Timestamp time.Time `json:"timestamp"`
}

// PurgeRaces removes the given race IDs from races and races_by_time and
// records an audit entry, per the admin purge contract. IDs that don't
// exist are skipped rather than treated as an error.
func (s *Store) PurgeRaces(ids []string, now time.Time) (int, error) {
	if s.readOnly {
		return 0, apperr.New(apperr.ReadOnly, "storage is read-only")
	}
	removed := 0
	err := s.db.Batch(func(tx *bbolt.Tx) error {
		races := tx.Bucket(bucketRaces)
		byTime := tx.Bucket(bucketRacesByTime)
		for _, id := range ids {
			v := races.Get([]byte(id))
			if v == nil {
				continue
			}
			var r race.Race
			if err := json.Unmarshal(v, &r); err == nil {
				if err := byTime.Delete(timeKey(r.StartedAt, r.ID)); err != nil {
					return err
				}
			}
			if err := races.Delete([]byte(id)); err != nil {
				return err
			}
			removed++
		}
		rec := auditRecord{Action: "purge", RaceIDs: ids, Timestamp: now}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte("audit/"+now.Format(time.RFC3339Nano)), data)
	})
	return removed, err
}
