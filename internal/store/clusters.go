package store

import (
	"encoding/json"

	"go.etcd.io/bbolt"

	"github.com/raceboard/server/internal/apperr"
	"github.com/raceboard/server/internal/race"
)

func (s *Store) UpsertCluster(c *race.Cluster) error {
	if s.readOnly {
		return apperr.New(apperr.ReadOnly, "storage is read-only")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Batch(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketClusters).Put([]byte(c.ClusterID), data)
	})
}

func (s *Store) DeleteCluster(id string) error {
	if s.readOnly {
		return apperr.New(apperr.ReadOnly, "storage is read-only")
	}
	return s.db.Batch(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketClusters).Delete([]byte(id))
	})
}

// LoadAllClusters is used by the rebuild pipeline's persist stage to find
// stored clusters that a new rebuild no longer produces; callers needing a
// single cluster should prefer a registry lookup over round-tripping
// through bbolt.
func (s *Store) LoadAllClusters() ([]*race.Cluster, error) {
	var out []*race.Cluster
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketClusters).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var cl race.Cluster
			if err := json.Unmarshal(v, &cl); err != nil {
				s.log.Warn("skipping corrupt cluster record", "key", string(k), "err", err)
				continue
			}
			out = append(out, &cl)
		}
		return nil
	})
	return out, err
}

func (s *Store) PutSourceStats(st *race.SourceStats) error {
	if s.readOnly {
		return apperr.New(apperr.ReadOnly, "storage is read-only")
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.db.Batch(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSourceStats).Put([]byte(st.Source), data)
	})
}

func (s *Store) GetSourceStats(source string) (*race.SourceStats, bool, error) {
	var st race.SourceStats
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketSourceStats).Get([]byte(source))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &st)
	})
	return &st, found, err
}

func (s *Store) LoadAllSourceStats() ([]*race.SourceStats, error) {
	var out []*race.SourceStats
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketSourceStats).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var st race.SourceStats
			if err := json.Unmarshal(v, &st); err != nil {
				s.log.Warn("skipping corrupt source_stats record", "key", string(k), "err", err)
				continue
			}
			out = append(out, &st)
		}
		return nil
	})
	return out, err
}
