package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
)

var (
	ErrLoggedOut      = errors.New("auth: logged out")
	ErrSessionExpired = errors.New("auth: session expired, please login")
)

// Session holds the identity for the logged-in period. It is created at login,
// passed explicitly to every component, and ends exactly once by Logout or Invalidate.
type Session struct {
	identity Identity
	client   Client

	mu   sync.Mutex
	err  error
	done chan struct{}
}

func NewSession(identity Identity, client Client) (*Session, error) {
	if !identity.Valid() {
		return nil, ErrNoCredentials
	}
	return &Session{
		identity: identity,
		client:   client,
		done:     make(chan struct{}),
	}, nil
}

// Resume starts a session from the credentials stored by `client`.
func Resume(ctx context.Context, client Client) (*Session, error) {
	identity, err := client.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("resume session: %w", err)
	}
	return NewSession(identity, client)
}

// Identity returns the session identity; ok is false once the session ended.
func (s *Session) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Identity{}, false
	}
	return s.identity, true
}

func (s *Session) Username() string {
	return s.identity.Username
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns nil while the session is active, else why it ended.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Active() bool {
	return s.Err() == nil
}

// Logout ends the session on user request.
func (s *Session) Logout() {
	s.end(ErrLoggedOut)
}

// Invalidate ends the session after the server rejected its token. The stored
// credentials are dropped so the user is sent back to login.
func (s *Session) Invalidate() {
	if s.end(ErrSessionExpired) && s.client != nil {
		if err := s.client.Forget(context.Background()); err != nil {
			glog.Errorf("session: forget credentials of `%s`: %v", s.identity.Username, err)
		}
	}
}

func (s *Session) end(cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false
	}
	s.err = cause
	close(s.done)
	glog.Infof("session of `%s` ended: %v", s.identity.Username, cause)
	return true
}
