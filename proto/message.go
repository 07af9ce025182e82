package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type MsgType string

const (
	MsgTypeText  MsgType = "Text"
	MsgTypeImage MsgType = "Image"
	MsgTypeVideo MsgType = "Video"
)

// MediaKind is the `type` form field of a media upload.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Valid reports whether the server accepts uploads of this kind.
func (k MediaKind) Valid() bool {
	return k == MediaImage || k == MediaVideo
}

// ContentType is the MIME type announced for the uploaded file part.
func (k MediaKind) ContentType() string {
	switch k {
	case MediaImage:
		return "image/jpeg"
	case MediaVideo:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// Message is a chat message as the server serializes it.
// Id is server assigned; zero means not yet confirmed.
type Message struct {
	Id        int64   `json:"id"`
	Sender    string  `json:"sender"`
	Receiver  string  `json:"receiver"`
	MsgType   MsgType `json:"msg_type"`
	Content   string  `json:"content,omitempty"`
	Image     string  `json:"image,omitempty"`
	Video     string  `json:"video,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	IsSeen    bool    `json:"is_seen"`
}

// MediaRef returns the server-relative media path for Image and Video messages.
func (m *Message) MediaRef() string {
	if m.Image != "" {
		return m.Image
	}
	return m.Video
}

func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("#%d %s->%s %s", m.Id, m.Sender, m.Receiver, m.MsgType)
}

// Section is one date partition of a conversation, e.g. "Today".
type Section struct {
	Label    string
	Messages []*Message
}

// Sections keeps the order in which the server listed its date partitions.
// On the wire it is a JSON object: {"<label>": [<message>, ...], ...}.
type Sections []Section

func (s Sections) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, sec := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		label, err := json.Marshal(sec.Label)
		if err != nil {
			return nil, err
		}
		buf.Write(label)
		buf.WriteByte(':')
		msgs := sec.Messages
		if msgs == nil {
			msgs = []*Message{}
		}
		body, err := json.Marshal(msgs)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes the section map preserving key order. `null` leaves s untouched,
// `{}` and `[]` yield an empty non-nil value.
func (s *Sections) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	// The clear-chat endpoint answers with an empty list.
	if bytes.Equal(trimmed, []byte("[]")) {
		*s = Sections{}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("sections: expect object, got %v", tok)
	}

	out := Sections{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := tok.(string)
		if !ok {
			return fmt.Errorf("sections: unexpected key %v", tok)
		}
		var msgs []*Message
		if err := dec.Decode(&msgs); err != nil {
			return fmt.Errorf("sections: section %q: %w", label, err)
		}
		out = append(out, Section{Label: label, Messages: msgs})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

// Clone deep copies the sections and their messages.
func (s Sections) Clone() Sections {
	if s == nil {
		return nil
	}
	out := make(Sections, 0, len(s))
	for _, sec := range s {
		msgs := make([]*Message, 0, len(sec.Messages))
		for _, m := range sec.Messages {
			if m != nil {
				msgs = append(msgs, m.Clone())
			}
		}
		out = append(out, Section{Label: sec.Label, Messages: msgs})
	}
	return out
}

// Ids returns every message id, in section then arrival order.
func (s Sections) Ids() []int64 {
	var out []int64
	for _, sec := range s {
		for _, m := range sec.Messages {
			out = append(out, m.Id)
		}
	}
	return out
}

// Profile is the peer info returned along with the message history.
type Profile struct {
	Username       string `json:"username,omitempty"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	// Blocked: the peer has blocked the current user.
	Blocked bool `json:"blocked"`
	// OtherBlocked: the current user has blocked the peer.
	OtherBlocked bool `json:"other_blocked"`
}

// ChatPreview is one entry of the conversation list.
type ChatPreview struct {
	Id              int64   `json:"id"`
	Username        string  `json:"username"`
	LastMessage     string  `json:"last_message,omitempty"`
	LastMessageTime string  `json:"last_message_time,omitempty"`
	MsgType         MsgType `json:"msg_type,omitempty"`
	UnseenMsgs      int32   `json:"unseen_msgs"`
	IsTyping        bool    `json:"is_typing"`
	IsBlocked       bool    `json:"is_blocked"`
	ProfilePicture  string  `json:"profile_picture,omitempty"`
}

// ConversationKeySep joins the two participants of a conversation key.
const ConversationKeySep = "__"

// ConversationKey derives the key both participants use to address their conversation.
func ConversationKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ConversationKeySep)
}
