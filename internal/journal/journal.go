// Package journal persists the last committed switch route so a later
// status query can report the authoritative state without touching the
// hardware.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const (
	currentKey    = "route/current"
	historyPrefix = "route/history/"

	// historyLimit bounds how many transitions are retained.
	historyLimit = 32
)

// Record is one committed route transition.
type Record struct {
	Route       string    `json:"route"`
	OperationID string    `json:"operationId"`
	At          time.Time `json:"at"`
}

type Journal struct {
	db *badger.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Commit records a route transition as the new authoritative state and
// appends it to the bounded history.
func (j *Journal) Commit(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	err = j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(currentKey), data); err != nil {
			return err
		}

		key := fmt.Sprintf("%s%020d", historyPrefix, rec.At.UnixNano())
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}

	return j.prune()
}

// Last returns the most recently committed route, or nil if nothing has
// been committed yet.
func (j *Journal) Last() (*Record, error) {
	var rec *Record

	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(currentKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			rec = new(Record)
			return json.Unmarshal(val, rec)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("journal read: %w", err)
	}

	return rec, nil
}

// History returns up to limit transitions, newest first.
func (j *Journal) History(limit int) ([]Record, error) {
	records := []Record{}

	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(historyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		// A reverse iteration must seek past the last key in the prefix.
		seek := append([]byte(historyPrefix), 0xFF)
		for it.Seek(seek); it.Valid() && len(records) < limit; it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal history: %w", err)
	}

	return records, nil
}

// prune drops history entries beyond the retention bound, oldest first.
func (j *Journal) prune() error {
	return j.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(historyPrefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)

		keys := [][]byte{}
		for it.Seek([]byte(historyPrefix)); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for len(keys) > historyLimit {
			if err := txn.Delete(keys[0]); err != nil {
				return err
			}
			keys = keys[1:]
		}

		return nil
	})
}
