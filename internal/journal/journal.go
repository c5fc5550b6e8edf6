// Package journal keeps a local append-only record of tool invocations in
// a bbolt file, so destructive operations (revert, history drops) leave an
// audit trail independent of the database they acted on.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	invocationsBucket = []byte("invocations")
	metadataBucket    = []byte("metadata")
)

type Entry struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	OK        bool           `json:"ok"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration_ns"`
	Timestamp time.Time      `json:"timestamp"`
}

type Journal struct {
	db *bolt.DB
}

func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{invocationsBucket, metadataBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket: %w", err)
			}
		}
		meta := tx.Bucket(metadataBucket)
		if meta.Get([]byte("created_at")) == nil {
			return meta.Put([]byte("created_at"), []byte(time.Now().UTC().Format(time.RFC3339)))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Append(entry *Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(invocationsBucket)

		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to allocate sequence: %w", err)
		}
		key := fmt.Sprintf("%020d:%010d", entry.Timestamp.UnixNano(), seq)

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal journal entry: %w", err)
		}

		return bucket.Put([]byte(key), data)
	})
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	var entries []Entry

	err := j.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(invocationsBucket).Cursor()

		for k, v := cursor.Last(); k != nil && len(entries) < n; k, v = cursor.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

func (j *Journal) CreatedAt() (string, error) {
	var value string

	err := j.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(metadataBucket).Get([]byte("created_at"))
		if data == nil {
			return fmt.Errorf("journal metadata missing")
		}
		value = string(data)
		return nil
	})

	return value, err
}
