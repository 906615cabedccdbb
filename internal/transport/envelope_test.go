package transport

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadShapes(t *testing.T) {
	assert.JSONEq(t, `{"stumble":"msg","text":"PONG"}`, string(TextPayload("PONG")))
	assert.JSONEq(t, `{"stumble":"youtube","type":"add","id":"lofi beats","time":0}`, string(YouTubePayload(" lofi beats ")))
}

func TestRender(t *testing.T) {
	s, err := Render(TextPayload("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	s, err = Render(YouTubePayload("a b"))
	require.NoError(t, err)
	assert.Contains(t, s, "search_query=a+b")

	s, err = Render(YouTubePayload("rock & roll #1?"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(s, "search_query=rock+%26+roll+%231%3F"), s)

	_, err = Render([]byte(`{"stumble":"join"}`))
	assert.Error(t, err)
	_, err = Render([]byte(`nope`))
	assert.Error(t, err)
}

func TestEnvelopeToEvent(t *testing.T) {
	e, err := DecodeEnvelope([]byte(`{"stumble":"join","handle":"h1","nick":"guest-42","username":"alice","mod":true}`))
	require.NoError(t, err)
	ev, ok := e.ToEvent()
	require.True(t, ok)
	assert.Equal(t, Event{Kind: EventJoin, SenderHandle: "h1", SenderDisplayName: "guest-42", Username: "alice", IsModerator: true}, ev)

	e, err = DecodeEnvelope([]byte(`{"stumble":"join","handle":"h1"}`))
	require.NoError(t, err)
	_, ok = e.ToEvent()
	assert.False(t, ok, "partial join is ignored")

	e, err = DecodeEnvelope([]byte(`{"stumble":"ping"}`))
	require.NoError(t, err)
	_, ok = e.ToEvent()
	assert.False(t, ok)
}
