package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	checkpointBucket = "checkpoints"
	failedURLBucket  = "failed_urls"
	expiryValueBytes = 8
	keySeparator     = '\x00'
)

// boltJournal implements Journal backed by BoltDB.
type boltJournal struct {
	db              *bolt.DB
	cleanupMu       sync.Mutex
	lastCleanup     atomic.Int64
	failedURLTTL    time.Duration
	cleanupInterval time.Duration
}

func openBolt(path string, opts Options) (Journal, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{checkpointBucket, failedURLBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	j := &boltJournal{
		db:              db,
		failedURLTTL:    opts.FailedURLTTL,
		cleanupInterval: opts.CleanupInterval,
	}
	j.lastCleanup.Store(time.Now().Unix())
	return j, nil
}

func (j *boltJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *boltJournal) SaveCheckpoint(job, token string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(checkpointBucket))
		if bucket == nil {
			return fmt.Errorf("checkpoint bucket missing")
		}
		return bucket.Put([]byte(job), []byte(token))
	})
}

func (j *boltJournal) Checkpoint(job string) (string, bool, error) {
	var token string
	var found bool
	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(checkpointBucket))
		if bucket == nil {
			return fmt.Errorf("checkpoint bucket missing")
		}
		if value := bucket.Get([]byte(job)); value != nil {
			token = string(value)
			found = true
		}
		return nil
	})
	return token, found, err
}

func (j *boltJournal) ClearCheckpoint(job string) error {
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(checkpointBucket))
		if bucket == nil {
			return fmt.Errorf("checkpoint bucket missing")
		}
		return bucket.Delete([]byte(job))
	})
}

func failedKey(sourceID, url string) []byte {
	key := make([]byte, 0, len(sourceID)+1+len(url))
	key = append(key, sourceID...)
	key = append(key, keySeparator)
	key = append(key, url...)
	return key
}

func (j *boltJournal) RecordFailedURL(sourceID, url string) error {
	now := time.Now()
	if err := j.maybeCleanupExpired(now); err != nil {
		return err
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(failedURLBucket))
		if bucket == nil {
			return fmt.Errorf("failed-url bucket missing")
		}
		buf := make([]byte, expiryValueBytes)
		binary.BigEndian.PutUint64(buf, uint64(now.Add(j.failedURLTTL).Unix()))
		return bucket.Put(failedKey(sourceID, url), buf)
	})
}

func (j *boltJournal) FailedURLs(sourceID string) ([]string, error) {
	if err := j.maybeCleanupExpired(time.Now()); err != nil {
		return nil, err
	}

	prefix := failedKey(sourceID, "")
	var urls []string
	err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(failedURLBucket))
		if bucket == nil {
			return fmt.Errorf("failed-url bucket missing")
		}
		cursor := bucket.Cursor()
		now := time.Now()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				continue
			}
			urls = append(urls, string(k[len(prefix):]))
		}
		return nil
	})
	return urls, err
}

func (j *boltJournal) ClearFailedURLs(sourceID string) error {
	prefix := failedKey(sourceID, "")
	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(failedURLBucket))
		if bucket == nil {
			return fmt.Errorf("failed-url bucket missing")
		}
		cursor := bucket.Cursor()
		for k, _ := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// maybeCleanupExpired removes expired failed-URL entries on a fixed cadence
// to avoid unbounded growth.
func (j *boltJournal) maybeCleanupExpired(now time.Time) error {
	last := time.Unix(j.lastCleanup.Load(), 0)
	if now.Sub(last) < j.cleanupInterval {
		return nil
	}

	j.cleanupMu.Lock()
	defer j.cleanupMu.Unlock()

	last = time.Unix(j.lastCleanup.Load(), 0)
	if now.Sub(last) < j.cleanupInterval {
		return nil
	}

	err := j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(failedURLBucket))
		if bucket == nil {
			return fmt.Errorf("failed-url bucket missing")
		}
		cursor := bucket.Cursor()
		for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
			expiry, ok := decodeExpiry(v)
			if !ok || !expiry.After(now) {
				if err := cursor.Delete(); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil {
		j.lastCleanup.Store(now.Unix())
	}
	return err
}

func decodeExpiry(value []byte) (time.Time, bool) {
	if len(value) != expiryValueBytes {
		return time.Time{}, false
	}
	unix := int64(binary.BigEndian.Uint64(value))
	if unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0), true
}
