package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Status string

const (
	StatusMsg         Status = "msg"
	StatusPresence    Status = "status"
	StatusTyping      Status = "typing"
	StatusBlock       Status = "block"
	StatusMediaUpdate Status = "media_update"
)

const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// TextType is the `type` of an outbound text frame.
const TextType = "text"

var ErrMissingStatus = errors.New("frame: missing status")

// Frame is the body of every socket envelope. Which fields are set depends on Status.
type Frame struct {
	Status Status `json:"status"`

	// msg, media_update
	Message *Message `json:"message,omitempty"`

	// status (conversation): presence result and optional catch-up snapshot.
	Result   string    `json:"result,omitempty"`
	Messages *Sections `json:"messages,omitempty"`

	// typing, block, outbound msg
	Sender    string `json:"sender,omitempty"`
	Receiver  string `json:"receiver,omitempty"`
	IsTyping  *bool  `json:"isTyping,omitempty"`
	IsBlocked *bool  `json:"isBlocked,omitempty"`

	// outbound text msg
	Content string `json:"content,omitempty"`
	Type    string `json:"type,omitempty"`

	// global channel: msg carries the refreshed list, status the online members.
	Chats   []*ChatPreview `json:"chats,omitempty"`
	Members []string       `json:"members,omitempty"`
}

func (f *Frame) GetIsTyping() bool {
	return f != nil && f.IsTyping != nil && *f.IsTyping
}

func (f *Frame) GetIsBlocked() bool {
	return f != nil && f.IsBlocked != nil && *f.IsBlocked
}

// HasSnapshot reports whether a status frame carries a full message snapshot.
func (f *Frame) HasSnapshot() bool {
	return f != nil && f.Messages != nil
}

func Bool(v bool) *bool {
	return &v
}

// Envelope wraps every frame in both directions: {"message": {"status": ...}}.
type Envelope struct {
	Message *Frame `json:"message"`
}

func Encode(f *Frame) ([]byte, error) {
	if f == nil || f.Status == "" {
		return nil, ErrMissingStatus
	}
	return json.Marshal(&Envelope{Message: f})
}

// Decode parses an inbound frame. Besides the envelope form it accepts a bare frame
// object, which some servers use on the global channel.
func Decode(data []byte) (*Frame, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}

	body := data
	if _, bare := raw["status"]; !bare {
		inner, ok := raw["message"]
		if !ok {
			return nil, ErrMissingStatus
		}
		body = inner
	}

	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}
	if f.Status == "" {
		return nil, ErrMissingStatus
	}
	return &f, nil
}

func NewTextFrame(sender, receiver, content string) *Frame {
	return &Frame{
		Status:   StatusMsg,
		Sender:   sender,
		Receiver: receiver,
		Content:  content,
		Type:     TextType,
	}
}

func NewTypingFrame(sender, receiver string, typing bool) *Frame {
	return &Frame{
		Status:   StatusTyping,
		Sender:   sender,
		Receiver: receiver,
		IsTyping: Bool(typing),
	}
}

func NewBlockFrame(sender, receiver string, blocked bool) *Frame {
	return &Frame{
		Status:    StatusBlock,
		Sender:    sender,
		Receiver:  receiver,
		IsBlocked: Bool(blocked),
	}
}

func NewMediaUpdateFrame(msg *Message) *Frame {
	return &Frame{
		Status:  StatusMediaUpdate,
		Message: msg,
	}
}
