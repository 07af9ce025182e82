package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.etcd.io/bbolt"
)

const openTimeout = time.Second

// snapshotStore implements `ISnapshotStore` on a bbolt file, one bucket per owner.
type snapshotStore struct {
	*bbolt.DB
}

// OpenSnapshotStore opens or creates the cache file at `path`.
func OpenSnapshotStore(path string) (*snapshotStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("open snapshot store `%s`: %w", path, err)
	}
	return &snapshotStore{db}, nil
}

func bucketName(owner string) []byte {
	return []byte("u:" + owner)
}

func (s *snapshotStore) Load(ctx context.Context, owner, key string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out *Snapshot
	err := s.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(owner))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		var snap Snapshot
		if err := json.Unmarshal(v, &snap); err != nil {
			return fmt.Errorf("decode snapshot `%s`: %w", key, err)
		}
		out = &snap
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *snapshotStore) Save(ctx context.Context, owner string, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.SavedAt == 0 {
		snap.SavedAt = time.Now().Unix()
	}
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot `%s`: %w", snap.Key, err)
	}

	return s.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(owner))
		if err != nil {
			return err
		}
		return b.Put([]byte(snap.Key), value)
	})
}

func (s *snapshotStore) Delete(ctx context.Context, owner, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(owner))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func (s *snapshotStore) DeleteOutdated(ctx context.Context, owner string, ttlDays int32) (int32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lteSavedAt := GetDayBefore(ttlDays).Unix()
	var numDeleted int32

	err := s.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(owner))
		if b == nil {
			return nil
		}

		var outdated [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				glog.Errorf("snapshot store: drop undecodable entry `%s`: %v", k, err)
				outdated = append(outdated, k)
				return nil
			}
			if snap.SavedAt <= lteSavedAt {
				outdated = append(outdated, k)
			}
			return nil
		}); err != nil {
			return err
		}

		// keys are only valid inside the tx; deleting while iterating is not allowed.
		for _, k := range outdated {
			if err := b.Delete(k); err != nil {
				return err
			}
			numDeleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return numDeleted, nil
}
