package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// BoltLedger stores records as JSON in a single bbolt bucket.
type BoltLedger struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltLedger{db: db}, nil
}

func (l *BoltLedger) Get(_ context.Context, name string) (*Record, error) {
	var rec *Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(documentsBucket).Get([]byte(name))
		if v == nil {
			return ErrNotFound
		}
		rec = &Record{}
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (l *BoltLedger) Put(_ context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(r.Name), data)
	})
}

func (l *BoltLedger) List(_ context.Context) ([]Record, error) {
	var out []Record
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, r)
			return nil
		})
	})
	return out, err
}

func (l *BoltLedger) Reset(_ context.Context) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(documentsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(documentsBucket)
		return err
	})
}

func (l *BoltLedger) Close() error {
	return l.db.Close()
}
