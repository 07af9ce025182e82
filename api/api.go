package api

import (
	"context"
	"errors"
	"fmt"

	pb "github.com/mqy/minichat/proto"
)

var (
	// ErrUnauthorized is returned for any 401. The session has already been invalidated.
	ErrUnauthorized = errors.New("api: unauthorized")
)

// StatusError is a non-2xx answer other than 401.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api: http status %d", e.Code)
	}
	return fmt.Sprintf("api: http status %d: %s", e.Code, e.Detail)
}

// MessagesResp is the conversation history returned on open.
type MessagesResp struct {
	Messages pb.Sections `json:"messages"`
	Profile  pb.Profile  `json:"profile"`
}

// MediaItem is a picked local file waiting to be sent.
type MediaItem struct {
	Path string
	Name string
	Kind pb.MediaKind
	Size int64
}

// IClient is the REST surface the chat core consumes. Every call carries the
// session bearer token.
type IClient interface {
	// FetchMessages loads the history and peer profile of conversation `key`.
	FetchMessages(ctx context.Context, key string) (*MessagesResp, error)

	// FetchChats loads the conversation list.
	FetchChats(ctx context.Context) ([]*pb.ChatPreview, error)

	// SendMedia uploads one media message; the returned message is server confirmed.
	SendMedia(ctx context.Context, key string, item MediaItem) (*pb.Message, error)

	// DeleteMessage deletes message `id` and returns what remains of the conversation.
	DeleteMessage(ctx context.Context, key string, id int64) (pb.Sections, error)

	// ClearChat deletes every message of the conversation.
	ClearChat(ctx context.Context, key string) error

	// BlockUser blocks or unblocks `peer`.
	BlockUser(ctx context.Context, peer string, block bool) error
}
