package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.etcd.io/bbolt"
)

// Manifest describes one completed snapshot. Snapshot returns it to the
// caller; it is not written to disk or to the meta bucket.
type Manifest struct {
	Path       string    `json:"path"`
	TakenAt    time.Time `json:"taken_at"`
	SHA256     string    `json:"sha256"`
	RawBytes   int64     `json:"raw_bytes"`
	ZstdBytes  int64     `json:"zstd_bytes"`
}

// Snapshot copies the live bbolt file into a zstd-compressed archive under
// destDir, hashing the raw bytes as they're read so the manifest can detect
// truncation independent of zstd's own frame checksums.
func (s *Store) Snapshot(destDir string, now time.Time) (*Manifest, error) {
	name := fmt.Sprintf("eta_history-%s.db.zst", now.UTC().Format("20060102T150405Z"))
	destPath := destDir + string(os.PathSeparator) + name

	out, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return nil, fmt.Errorf("init zstd writer: %w", err)
	}

	hasher := sha256.New()
	var rawBytes int64

	err = s.db.View(func(tx *bbolt.Tx) error {
		n, err := tx.WriteTo(io.MultiWriter(enc, hasher))
		rawBytes = n
		return err
	})
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close zstd writer: %w", err)
	}

	info, err := out.Stat()
	if err != nil {
		return nil, err
	}

	return &Manifest{
		Path:      destPath,
		TakenAt:   now,
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
		RawBytes:  rawBytes,
		ZstdBytes: info.Size(),
	}, nil
}

// Compact reclaims free pages left behind by deleted races; bbolt never
// shrinks its file on its own. It rewrites into a fresh file and swaps it in,
// matching the reload dance a bbolt compaction always requires.
func (s *Store) Compact(tmpPath string) error {
	if s.readOnly {
		return fmt.Errorf("cannot compact a read-only store")
	}
	tmp, err := bbolt.Open(tmpPath, 0o600, nil)
	if err != nil {
		return fmt.Errorf("open compaction target: %w", err)
	}
	defer os.Remove(tmpPath)

	err = s.db.View(func(srcTx *bbolt.Tx) error {
		return tmp.Update(func(dstTx *bbolt.Tx) error {
			return srcTx.ForEach(func(name []byte, b *bbolt.Bucket) error {
				dst, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return b.ForEach(func(k, v []byte) error {
					return dst.Put(append([]byte(nil), k...), append([]byte(nil), v...))
				})
			})
		})
	})
	tmp.Close()
	if err != nil {
		return fmt.Errorf("copy into compaction target: %w", err)
	}

	path := s.db.Path()
	if err := s.db.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	reopened, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return err
	}
	s.db = reopened
	return nil
}
