package proto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKey(t *testing.T) {
	assert.Equal(t, "alice__bob", ConversationKey("alice", "bob"))
	assert.Equal(t, "alice__bob", ConversationKey("bob", "alice"))
	assert.Equal(t, ConversationKey("zed", "amy"), ConversationKey("amy", "zed"))
}

func TestDecodeEnvelope(t *testing.T) {
	data := `{"message":{"status":"msg","message":{"id":7,"sender":"bob","receiver":"alice","msg_type":"Text","content":"hi","timestamp":"10:02","is_seen":false}}}`
	f, err := Decode([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, StatusMsg, f.Status)
	require.NotNil(t, f.Message)
	assert.EqualValues(t, 7, f.Message.Id)
	assert.Equal(t, "hi", f.Message.Content)
}

func TestDecodeBareFrame(t *testing.T) {
	// A bare frame also carries a nested "message" key; status at the top wins.
	data := `{"status":"msg","message":{"id":3,"sender":"bob","msg_type":"Text"}}`
	f, err := Decode([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, StatusMsg, f.Status)
	assert.EqualValues(t, 3, f.Message.Id)

	f, err = Decode([]byte(`{"status":"status","members":["alice","bob"]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, f.Members)
}

func TestDecodeMalformed(t *testing.T) {
	for _, data := range []string{
		``,
		`not json`,
		`[]`,
		`{"message":{}}`,
		`{"message":"x"}`,
		`{"other":1}`,
	} {
		_, err := Decode([]byte(data))
		assert.Error(t, err, "input %q", data)
	}
}

func TestDecodePresenceSnapshot(t *testing.T) {
	f, err := Decode([]byte(`{"message":{"status":"status","result":"online"}}`))
	require.NoError(t, err)
	assert.Equal(t, PresenceOnline, f.Result)
	assert.False(t, f.HasSnapshot())

	f, err = Decode([]byte(`{"message":{"status":"status","result":"offline","messages":{}}}`))
	require.NoError(t, err)
	require.True(t, f.HasSnapshot())
	assert.Empty(t, *f.Messages)

	f, err = Decode([]byte(`{"message":{"status":"status","result":"online","messages":{"2024-01-02":[{"id":1}],"Today":[{"id":2},{"id":3}]}}}`))
	require.NoError(t, err)
	require.True(t, f.HasSnapshot())
	secs := *f.Messages
	require.Len(t, secs, 2)
	assert.Equal(t, "2024-01-02", secs[0].Label)
	assert.Equal(t, "Today", secs[1].Label)
	assert.Equal(t, []int64{1, 2, 3}, secs.Ids())
}

func TestEncodeTyping(t *testing.T) {
	data, err := Encode(NewTypingFrame("alice", "bob", false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":{"status":"typing","sender":"alice","receiver":"bob","isTyping":false}}`, string(data))

	f, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, f.IsTyping)
	assert.False(t, f.GetIsTyping())
}

func TestEncodeText(t *testing.T) {
	data, err := Encode(NewTextFrame("alice", "bob", "hello"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":{"status":"msg","sender":"alice","receiver":"bob","content":"hello","type":"text"}}`, string(data))

	_, err = Encode(&Frame{})
	assert.ErrorIs(t, err, ErrMissingStatus)
}

func TestSectionsOrderPreserved(t *testing.T) {
	secs := Sections{
		{Label: "Yesterday", Messages: []*Message{{Id: 1}}},
		{Label: "Today", Messages: nil},
	}
	data, err := json.Marshal(secs)
	require.NoError(t, err)
	assert.Regexp(t, `^\{"Yesterday":\[.*\],"Today":\[\]\}$`, string(data))

	var back Sections
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "Yesterday", back[0].Label)
	assert.Equal(t, "Today", back[1].Label)

	var empty Sections
	require.NoError(t, json.Unmarshal([]byte(`[]`), &empty))
	assert.NotNil(t, empty)
	assert.Len(t, empty, 0)
}

func TestSectionsClone(t *testing.T) {
	orig := Sections{{Label: "Today", Messages: []*Message{{Id: 1, Content: "a"}}}}
	c := orig.Clone()
	c[0].Messages[0].Content = "b"
	assert.Equal(t, "a", orig[0].Messages[0].Content)
}
