package auth

import (
	"context"
	"errors"
)

var ErrNoCredentials = errors.New("auth: no stored credentials")

// Identity is the authenticated user of a session.
type Identity struct {
	Username string
	Token    string
}

func (id Identity) Valid() bool {
	return id.Username != "" && id.Token != ""
}

// Client supplies the credentials saved by the login flow.
type Client interface {
	// Credentials returns the stored identity, ErrNoCredentials if the user must log in.
	Credentials(ctx context.Context) (Identity, error)

	// Forget drops the stored identity so the next start requires login.
	Forget(ctx context.Context) error
}
