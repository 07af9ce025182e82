package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"

	"github.com/mqy/minichat/api"
	pb "github.com/mqy/minichat/proto"
	"github.com/mqy/minichat/ws"
)

// SendText sends `text` over the socket. The store changes only when the
// server echoes the message back.
func (c *Conversation) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	c.mu.Lock()
	switch {
	case len(c.media) > 0:
		c.mu.Unlock()
		return ErrMediaPending
	case !c.state.ChatEnabled():
		c.mu.Unlock()
		return ErrChatDisabled
	}
	h := c.handler
	c.mu.Unlock()

	if h == nil || h.State() != ws.Open {
		return ErrNotOpen
	}
	if err := h.Send(pb.NewTextFrame(c.self, c.peer, text)); err != nil {
		return err
	}

	c.mu.Lock()
	c.draft = ""
	c.mu.Unlock()
	c.typing.Flush()
	return nil
}

// QueueMedia validates `item` and appends it to the media queue.
func (c *Conversation) QueueMedia(item api.MediaItem) error {
	if err := c.validateMedia(&item); err != nil {
		return err
	}

	c.mu.Lock()
	if strings.TrimSpace(c.draft) != "" {
		c.mu.Unlock()
		return ErrDraftPending
	}
	c.media = append(c.media, item)
	c.mu.Unlock()

	c.emit(MediaQueueChanged)
	return nil
}

// ClearMedia empties the media queue.
func (c *Conversation) ClearMedia() {
	c.mu.Lock()
	c.media = nil
	c.mu.Unlock()
	c.emit(MediaQueueChanged)
}

// validateMedia fills a missing size and name from the file.
func (c *Conversation) validateMedia(item *api.MediaItem) error {
	if !item.Kind.Valid() {
		return fmt.Errorf("%w: `%s`", ErrUnsupportedMedia, item.Kind)
	}
	if item.Size <= 0 {
		fi, err := os.Stat(item.Path)
		if err != nil {
			return fmt.Errorf("chat: stat media: %w", err)
		}
		item.Size = fi.Size()
	}
	if item.Size > c.conf.MaxMediaBytes {
		return fmt.Errorf("%w: %d > %d bytes", ErrMediaTooLarge, item.Size, c.conf.MaxMediaBytes)
	}
	if item.Name == "" {
		item.Name = filepath.Base(item.Path)
	}
	return nil
}

// SendMedia uploads the queued items one by one. A failed item raises an
// UploadFailed notice and the rest still go; the queue always ends empty.
// Returns the number of items sent.
func (c *Conversation) SendMedia(ctx context.Context) (int, error) {
	c.mu.Lock()
	switch {
	case !c.state.ChatEnabled():
		c.mu.Unlock()
		return 0, ErrChatDisabled
	case c.handler == nil:
		c.mu.Unlock()
		return 0, ErrNotOpen
	}
	epoch := c.epoch
	c.mu.Unlock()

	defer c.emit(MediaQueueChanged)

	var sent int
	for {
		c.mu.Lock()
		if len(c.media) == 0 {
			c.mu.Unlock()
			return sent, nil
		}
		item := c.media[0]
		c.media = c.media[1:]
		c.mu.Unlock()

		if err := c.validateMedia(&item); err != nil {
			c.notice(&Notice{Kind: UploadFailed, Name: item.Name, Err: err})
			continue
		}

		msg, err := c.deps.Client.SendMedia(ctx, c.key, item)
		if err != nil {
			if errors.Is(err, api.ErrUnauthorized) {
				c.ClearMedia()
				return sent, c.restFailed(err)
			}
			if ctx.Err() != nil {
				c.ClearMedia()
				return sent, ctx.Err()
			}
			c.notice(&Notice{Kind: UploadFailed, Name: item.Name, Err: err})
			continue
		}

		c.mu.Lock()
		stale := c.epoch != epoch
		c.mu.Unlock()
		if stale {
			c.ClearMedia()
			return sent, ErrClosed
		}

		sent++
		c.store.Upsert(c.conf.LiveSection, msg)
		c.persist()
		c.emit(MessagesChanged)

		if err := c.send(pb.NewMediaUpdateFrame(msg)); err != nil {
			glog.Warningf("conversation %s: media_update for message %d not sent: %v", c.key, msg.Id, err)
		}
	}
}
