package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResume(t *testing.T) {
	ctx := context.Background()

	_, err := Resume(ctx, NewStaticClient("", ""))
	assert.ErrorIs(t, err, ErrNoCredentials)

	s, err := Resume(ctx, NewStaticClient("alice", "tok"))
	require.NoError(t, err)
	id, ok := s.Identity()
	require.True(t, ok)
	assert.Equal(t, Identity{Username: "alice", Token: "tok"}, id)
	assert.True(t, s.Active())
}

func TestLogoutEndsOnce(t *testing.T) {
	s, err := NewSession(Identity{Username: "alice", Token: "tok"}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Logout()
		}()
	}
	wg.Wait()

	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
	assert.ErrorIs(t, s.Err(), ErrLoggedOut)
	_, ok := s.Identity()
	assert.False(t, ok)

	// the first cause sticks.
	s.Invalidate()
	assert.ErrorIs(t, s.Err(), ErrLoggedOut)
}

func TestInvalidateForgetsCredentials(t *testing.T) {
	c := NewStaticClient("alice", "tok")
	s, err := Resume(context.Background(), c)
	require.NoError(t, err)

	s.Invalidate()
	assert.ErrorIs(t, s.Err(), ErrSessionExpired)

	_, err = c.Credentials(context.Background())
	assert.ErrorIs(t, err, ErrNoCredentials)
}
