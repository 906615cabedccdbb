package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Envelope kinds used on the wire. The discriminator key is "stumble".
const (
	KindMsg     = "msg"
	KindJoin    = "join"
	KindYouTube = "youtube"
	KindPing    = "ping"
	KindPong    = "pong"
)

// Envelope is the JSON object exchanged with the room server.
type Envelope struct {
	Stumble string `json:"stumble"`

	// msg
	Text   string `json:"text,omitempty"`
	Handle string `json:"handle,omitempty"`
	Nick   string `json:"nick,omitempty"`

	// youtube
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
	Time *int   `json:"time,omitempty"`

	// join (inbound: a user entered; outbound: the bot enters a room)
	Username string          `json:"username,omitempty"`
	Room     string          `json:"room,omitempty"`
	Token    string          `json:"token,omitempty"`
	Mod      *bool           `json:"mod,omitempty"`
	Extra    json.RawMessage `json:"extra,omitempty"`
}

// TextPayload builds the outbound payload for a chat line.
func TextPayload(text string) []byte {
	b, _ := json.Marshal(Envelope{Stumble: KindMsg, Text: text})
	return b
}

// YouTubePayload builds the outbound payload that queues a video by id or search query.
func YouTubePayload(query string) []byte {
	zero := 0
	b, _ := json.Marshal(Envelope{Stumble: KindYouTube, Type: "add", ID: strings.TrimSpace(query), Time: &zero})
	return b
}

func DecodeEnvelope(p []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(p, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if e.Stumble == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing kind")
	}
	return e, nil
}

// Render turns an outbound payload into plain text for transports without
// native envelope support.
func Render(p []byte) (string, error) {
	e, err := DecodeEnvelope(p)
	if err != nil {
		return "", err
	}
	switch e.Stumble {
	case KindMsg:
		return e.Text, nil
	case KindYouTube:
		return "▶️ https://www.youtube.com/results?search_query=" + url.QueryEscape(e.ID), nil
	default:
		return "", fmt.Errorf("render: unsupported kind %q", e.Stumble)
	}
}

// ToEvent maps an inbound envelope to a room event. ok is false for
// envelopes the core does not consume.
func (e Envelope) ToEvent() (Event, bool) {
	mod := e.Mod != nil && *e.Mod
	switch e.Stumble {
	case KindMsg:
		return Event{Kind: EventText, SenderHandle: e.Handle, SenderDisplayName: e.Nick, Username: e.Username, Text: e.Text, IsModerator: mod}, true
	case KindJoin:
		if e.Handle == "" || e.Username == "" || e.Nick == "" {
			return Event{}, false
		}
		return Event{Kind: EventJoin, SenderHandle: e.Handle, SenderDisplayName: e.Nick, Username: e.Username, IsModerator: mod}, true
	default:
		return Event{}, false
	}
}
