package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	pb "github.com/mqy/minichat/proto"
)

func openTestStore(t *testing.T) *snapshotStore {
	t.Helper()
	s, err := OpenSnapshotStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "alice", "alice__bob")
	assert.ErrorIs(t, err, ErrNotFound)

	snap := &Snapshot{
		Key: "alice__bob",
		Sections: pb.Sections{
			{Label: "2024-01-01", Messages: []*pb.Message{{Id: 1, Sender: "bob", MsgType: pb.MsgTypeText, Content: "hey"}}},
			{Label: LabelToday, Messages: []*pb.Message{{Id: 2, Sender: "alice", MsgType: pb.MsgTypeImage, Image: "/media/a.jpg"}}},
		},
		Profile: &pb.Profile{Username: "bob", OtherBlocked: true},
	}
	require.NoError(t, s.Save(ctx, "alice", snap))
	assert.NotZero(t, snap.SavedAt)

	got, err := s.Load(ctx, "alice", "alice__bob")
	require.NoError(t, err)
	assert.Equal(t, snap.Sections, got.Sections)
	assert.Equal(t, snap.Profile, got.Profile)

	// owners are isolated.
	_, err = s.Load(ctx, "bob", "alice__bob")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "alice", "alice__bob"))
	_, err = s.Load(ctx, "alice", "alice__bob")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, "nobody", "x__y"))
}

func TestSnapshotDeleteOutdated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-40 * 24 * time.Hour).Unix()
	require.NoError(t, s.Save(ctx, "alice", &Snapshot{Key: "alice__bob", Sections: pb.Sections{}, SavedAt: old}))
	require.NoError(t, s.Save(ctx, "alice", &Snapshot{Key: "alice__carol", Sections: pb.Sections{}}))

	// a corrupted entry is dropped as well.
	require.NoError(t, s.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName("alice")).Put([]byte("alice__dave"), []byte("{"))
	}))

	n, err := s.DeleteOutdated(ctx, "alice", 30)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = s.Load(ctx, "alice", "alice__carol")
	assert.NoError(t, err)

	n, err = s.DeleteOutdated(ctx, "nobody", 30)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshotCanceledContext(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Save(ctx, "alice", &Snapshot{Key: "k"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotJSON(t *testing.T) {
	data, err := json.Marshal(&Snapshot{Key: "a__b", Sections: pb.Sections{{Label: "Today"}}, SavedAt: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"a__b","sections":{"Today":[]},"saved_at":1}`, string(data))
}
