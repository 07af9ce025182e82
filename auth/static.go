package auth

import (
	"context"
	"sync"
)

var _ Client = (*StaticClient)(nil)

// StaticClient serves credentials handed over at startup and keeps them in
// memory until Forget.
type StaticClient struct {
	mu       sync.Mutex
	identity Identity
}

func NewStaticClient(username, token string) *StaticClient {
	return &StaticClient{identity: Identity{Username: username, Token: token}}
}

func (c *StaticClient) Credentials(ctx context.Context) (Identity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.identity.Valid() {
		return Identity{}, ErrNoCredentials
	}
	return c.identity, nil
}

func (c *StaticClient) Forget(ctx context.Context) error {
	c.mu.Lock()
	c.identity = Identity{}
	c.mu.Unlock()
	return nil
}
