package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"roombot/internal/transport"
	"roombot/pkg/logx"
)

func newOffline(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	cfg.Offline = true
	if cfg.Token == "" {
		cfg.Token = "123:abc"
	}
	a, err := New(cfg, logx.Nop(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{ChatID: 1, Offline: true}, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New(Config{Token: "x", Offline: true}, logx.Nop(), nil); err == nil {
		t.Fatal("expected error for empty chat id")
	}
}

func TestTextEventFiltersChat(t *testing.T) {
	a := newOffline(t, Config{ChatID: -100})
	user := &tele.User{ID: 42, FirstName: "Ann", LastName: "Lee", Username: "annl"}

	ev, ok := a.textEvent(&tele.Message{Chat: &tele.Chat{ID: -100}, Sender: user, Text: ".rules"})
	if !ok {
		t.Fatal("expected event")
	}
	if ev.Kind != transport.EventText || ev.SenderHandle != "42" || ev.SenderDisplayName != "Ann Lee" || ev.Username != "annl" || ev.Text != ".rules" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if _, ok := a.textEvent(&tele.Message{Chat: &tele.Chat{ID: -7}, Sender: user, Text: ".rules"}); ok {
		t.Fatal("other chat must be ignored")
	}
	if _, ok := a.textEvent(&tele.Message{Chat: &tele.Chat{ID: -100}, Sender: &tele.User{ID: 9, IsBot: true}, Text: "x"}); ok {
		t.Fatal("bots must be ignored")
	}
}

func TestThreadFilter(t *testing.T) {
	a := newOffline(t, Config{ChatID: -100, ThreadID: 5})
	user := &tele.User{ID: 1, Username: "u"}
	if _, ok := a.textEvent(&tele.Message{Chat: &tele.Chat{ID: -100}, ThreadID: 4, Sender: user}); ok {
		t.Fatal("other thread must be ignored")
	}
	ev, ok := a.textEvent(&tele.Message{Chat: &tele.Chat{ID: -100}, ThreadID: 5, Sender: user})
	if !ok || ev.SenderDisplayName != "u" {
		t.Fatalf("got %+v ok=%v", ev, ok)
	}
}

func TestJoinEvents(t *testing.T) {
	a := newOffline(t, Config{ChatID: -100})
	m := &tele.Message{
		Chat: &tele.Chat{ID: -100},
		UsersJoined: []tele.User{
			{ID: 1, FirstName: "Bo", Username: "bo"},
			{ID: 2, IsBot: true},
			{ID: 3, Username: "cy"},
		},
	}
	evs := a.joinEvents(m)
	if len(evs) != 2 {
		t.Fatalf("got %d events", len(evs))
	}
	if evs[0].Kind != transport.EventJoin || evs[0].SenderHandle != "1" || evs[0].SenderDisplayName != "Bo" {
		t.Fatalf("unexpected first: %+v", evs[0])
	}
	if evs[1].SenderDisplayName != "cy" {
		t.Fatalf("unexpected second: %+v", evs[1])
	}

	single := &tele.Message{Chat: &tele.Chat{ID: -100}, UserJoined: &tele.User{ID: 7, FirstName: "Di"}}
	if evs := a.joinEvents(single); len(evs) != 1 || evs[0].SenderHandle != "7" {
		t.Fatalf("single join: %+v", evs)
	}
}

func TestSendNowRequiresLiveTarget(t *testing.T) {
	a := newOffline(t, Config{ChatID: -100})
	if _, ok := a.Target(); ok {
		t.Fatal("target before start")
	}
	err := a.SendNow(context.Background(), transport.Target{Room: "-100", Generation: 1}, transport.TextPayload("x"))
	if err != transport.ErrNotConnected {
		t.Fatalf("got %v", err)
	}

	// Simulate a run without polling.
	a.gen.Add(1)
	a.live.Store(true)
	err = a.SendNow(context.Background(), transport.Target{Room: "-100", Generation: 0}, transport.TextPayload("x"))
	if err != transport.ErrStaleTarget {
		t.Fatalf("got %v", err)
	}
}

func TestSendNowHonorsContext(t *testing.T) {
	a := newOffline(t, Config{ChatID: -100})
	a.gen.Add(1)
	a.live.Store(true)
	to, _ := a.Target()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.SendNow(ctx, to, transport.TextPayload("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
}

func TestSplitText(t *testing.T) {
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("got %q", got)
	}

	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10)
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("got %q", got)
	}

	long := strings.Repeat("x", 25)
	got = splitText(long, 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("got %q", got)
	}
}
