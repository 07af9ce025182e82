package store

import (
	"context"
	"errors"

	pb "github.com/mqy/minichat/proto"
)

var ErrNotFound = errors.New("store: snapshot not found")

// Snapshot is a cached copy of one conversation's message sections.
type Snapshot struct {
	Key      string      `json:"key"`
	Sections pb.Sections `json:"sections"`
	Profile  *pb.Profile `json:"profile,omitempty"`
	SavedAt  int64       `json:"saved_at"` // unix seconds
}

type ISnapshotStore interface {
	// Load returns the cached snapshot of conversation `key` for `owner`, or ErrNotFound.
	Load(ctx context.Context, owner, key string) (*Snapshot, error)

	// Save overwrites the cached snapshot.
	Save(ctx context.Context, owner string, snap *Snapshot) error

	// Delete drops one cached conversation; deleting a missing key is not an error.
	Delete(ctx context.Context, owner, key string) error

	// DeleteOutdated drops snapshots saved before `ttlDays` days ago, returns the count.
	DeleteOutdated(ctx context.Context, owner string, ttlDays int32) (int32, error)

	Close() error
}
