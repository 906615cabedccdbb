package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roombot/internal/catalog"
	"roombot/internal/clock"
	"roombot/internal/outbox"
	"roombot/internal/storage"
	"roombot/internal/transport"
	"roombot/internal/users"
	"roombot/pkg/logx"
)

var epoch = time.Date(2026, 4, 20, 16, 15, 0, 0, time.UTC)

var room = transport.Target{Room: "lobby", Generation: 1}

type sent struct {
	env   transport.Envelope
	class outbox.Class
	at    time.Time
}

type fakeOutbox struct {
	clk     *clock.Fake
	sent    []sent
	cleared int
	limits  [][2]time.Duration
	limErr  error
}

func (f *fakeOutbox) Enqueue(_ transport.Target, p []byte, c outbox.Class) outbox.Message {
	e, err := transport.DecodeEnvelope(p)
	if err != nil {
		panic(err)
	}
	f.sent = append(f.sent, sent{env: e, class: c, at: f.clk.Now()})
	return outbox.Message{Payload: p, Class: c}
}

func (f *fakeOutbox) ConfigureRateLimit(m, p time.Duration) error {
	f.limits = append(f.limits, [2]time.Duration{m, p})
	return f.limErr
}

func (f *fakeOutbox) Clear() int { return f.cleared }

func (f *fakeOutbox) texts() []string {
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.env.Text)
	}
	return out
}

type fakeCountdown struct {
	started []int
	active  bool
}

func (c *fakeCountdown) Start(_ transport.Target, n int) error {
	c.started = append(c.started, n)
	c.active = true
	return nil
}

func (c *fakeCountdown) Cancel() bool {
	was := c.active
	c.active = false
	return was
}

type fixedTarget struct {
	t  transport.Target
	ok bool
}

func (f fixedTarget) Target() (transport.Target, bool) { return f.t, f.ok }

type memAudit struct {
	entries []storage.AuditEntry
}

func (m *memAudit) PutUser(context.Context, storage.UserRecord) error      { return nil }
func (m *memAudit) LoadUsers(context.Context) ([]storage.UserRecord, error) { return nil, nil }
func (m *memAudit) AppendAudit(_ context.Context, e storage.AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}
func (m *memAudit) RecentAudit(context.Context, int) ([]storage.AuditEntry, error) {
	return m.entries, nil
}
func (m *memAudit) Close() error { return nil }

type harness struct {
	d     *Dispatcher
	clk   *clock.Fake
	out   *fakeOutbox
	cd    *fakeCountdown
	dir   *users.Directory
	audit *Auditor
	store *memAudit
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clk := clock.NewFake(epoch)
	h := &harness{
		clk:   clk,
		out:   &fakeOutbox{clk: clk},
		cd:    &fakeCountdown{},
		dir:   users.New(nil, logx.Nop()),
		store: &memAudit{},
	}
	h.audit = NewAuditor(h.store, logx.Nop())
	h.d = New(cfg, Deps{
		Clock:     clk,
		Outbox:    h.out,
		Countdown: h.cd,
		Users:     h.dir,
		Texts:     catalog.NewHolder(catalog.Default()),
		Targets:   fixedTarget{t: room, ok: true},
		Audit:     h.audit,
		Log:       logx.Nop(),
	})
	h.d.pick = func(int) int { return 0 }
	return h
}

// drainAudit runs the auditor until its buffer is empty.
func (h *harness) drainAudit(t *testing.T) []storage.AuditEntry {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.audit.Run(ctx))
	return h.store.entries
}

func text(s string) transport.Event {
	return transport.Event{Kind: transport.EventText, SenderHandle: "h1", SenderDisplayName: "Ann", Text: s}
}

func modText(s string) transport.Event {
	ev := text(s)
	ev.IsModerator = true
	return ev
}

func noFlood() Config {
	cfg := DefaultConfig()
	cfg.FloodRate = 0
	return cfg
}

func TestYouTubeEnqueuesPriorityPayload(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.Handle(text(".yt  lofi beats "))

	require.Len(t, h.out.sent, 1)
	s := h.out.sent[0]
	assert.Equal(t, outbox.Priority, s.class)
	assert.Equal(t, transport.KindYouTube, s.env.Stumble)
	assert.Equal(t, "add", s.env.Type)
	assert.Equal(t, "lofi beats", s.env.ID)
	require.NotNil(t, s.env.Time)
	assert.Equal(t, 0, *s.env.Time)
}

func TestYouTubeEmptyQueryIsNoop(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.Handle(text(".yt   "))
	assert.Empty(t, h.out.sent)
}

func TestTokeValidation(t *testing.T) {
	cases := []struct {
		line    string
		started []int
		invalid bool
	}{
		{".toke 120", []int{120}, false},
		{".toke 60", []int{60}, false},
		{".toke 240", []int{240}, false},
		{".toke 120 now", []int{120}, false},
		{".toke 59", nil, true},
		{".toke 241", nil, true},
		{".toke", nil, true},
		{".toke abc", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.line, func(t *testing.T) {
			h := newHarness(t, noFlood())
			h.d.Handle(text(tc.line))
			assert.Equal(t, tc.started, h.cd.started)
			if tc.invalid {
				require.Len(t, h.out.sent, 1)
				assert.Equal(t, "Please specify a valid duration between 60-240 seconds (e.g., .toke 120)", h.out.sent[0].env.Text)
			} else {
				assert.Empty(t, h.out.sent)
			}
		})
	}
}

func TestTokeRangeFollowsConfig(t *testing.T) {
	cfg := noFlood()
	cfg.TokeMin, cfg.TokeMax = 10, 30
	h := newHarness(t, cfg)
	h.d.Handle(text(".toke 10"))
	h.d.Handle(text(".toke 31"))
	assert.Equal(t, []int{10}, h.cd.started)
	require.Len(t, h.out.sent, 1)
	assert.Contains(t, h.out.sent[0].env.Text, "10-30")
}

func TestCommandsListing(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.Handle(text(".commands"))
	assert.Equal(t, []string{
		"- .yt [query] - Play a YouTube video",
		"- .toke [seconds] - Start a toke countdown (60-240 seconds)",
		"- .commands - List all commands",
		"- .cheers - Share a friendly cheers with the room",
		"- .rules - Show the room rules",
	}, h.out.texts())
}

func TestPingRepliesAfterDelay(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.Handle(text("ping"))
	assert.Empty(t, h.out.sent)

	h.clk.Advance(999 * time.Millisecond)
	assert.Empty(t, h.out.sent)
	h.clk.Advance(time.Millisecond)
	require.Len(t, h.out.sent, 1)
	assert.Equal(t, "PONG", h.out.sent[0].env.Text)
	assert.Equal(t, epoch.Add(time.Second), h.out.sent[0].at)
}

func TestPingIsExact(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.Handle(text("pingpong"))
	h.clk.Advance(2 * time.Second)
	assert.Empty(t, h.out.sent)
}

func TestOneCommandPerLine(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.Handle(text(".rules .cheers"))
	assert.Equal(t, []string{"https://i.imgur.com/dSWT06e.png"}, h.out.texts())
}

func TestNonCommandIgnored(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.Handle(text("hello .rules"))
	h.d.Handle(text(""))
	assert.Empty(t, h.out.sent)
}

func TestModeratorCommandsDeniedToRegularUsers(t *testing.T) {
	h := newHarness(t, noFlood())
	h.cd.active = true
	h.d.Handle(text(".cancel"))
	h.d.Handle(text(".ratelimit 100 100"))
	h.d.Handle(text(".clearqueue"))

	assert.True(t, h.cd.active)
	assert.Empty(t, h.out.limits)
	assert.Empty(t, h.out.sent)
	assert.Empty(t, h.drainAudit(t))
}

func TestCancelByModerator(t *testing.T) {
	h := newHarness(t, noFlood())
	h.cd.active = true
	h.d.Handle(modText(".cancel"))

	assert.False(t, h.cd.active)
	assert.Equal(t, []string{"🛑 Toke countdown cancelled."}, h.out.texts())
	entries := h.drainAudit(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "cancel", entries[0].Action)
	assert.Equal(t, "h1", entries[0].ActorHandle)
	assert.True(t, entries[0].OK)
}

func TestConfiguredModeratorList(t *testing.T) {
	cfg := noFlood()
	cfg.Moderators = []string{"H1"}
	h := newHarness(t, cfg)
	h.cd.active = true
	h.d.Handle(text(".cancel"))
	assert.False(t, h.cd.active)
}

func TestModeratorFlagFromJoinIsRemembered(t *testing.T) {
	cfg := noFlood()
	cfg.Greet = false
	h := newHarness(t, cfg)
	h.cd.active = true

	h.d.Handle(transport.Event{Kind: transport.EventJoin, SenderHandle: "h1", SenderDisplayName: "Ann", IsModerator: true})
	h.d.Handle(text(".cancel"))
	assert.False(t, h.cd.active)

	// A later join without the flag revokes it.
	h.cd.active = true
	h.d.Handle(transport.Event{Kind: transport.EventJoin, SenderHandle: "h1", SenderDisplayName: "Ann"})
	h.d.Handle(text(".cancel"))
	assert.True(t, h.cd.active)
}

func TestRateLimitCommand(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.Handle(modText(".ratelimit 1500 400"))

	require.Equal(t, [][2]time.Duration{{1500 * time.Millisecond, 400 * time.Millisecond}}, h.out.limits)
	assert.Equal(t, []string{"Rate limit: 1500ms normal, 400ms priority."}, h.out.texts())
	assert.Equal(t, outbox.Priority, h.out.sent[0].class)
}

func TestRateLimitCommandRejects(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.Handle(modText(".ratelimit 1500"))
	assert.Empty(t, h.out.limits)

	h.out.limErr = errors.New("outbox: delay must be positive")
	h.d.Handle(modText(".ratelimit 0 400"))
	assert.Len(t, h.out.limits, 1)

	assert.Equal(t, []string{
		"Usage: .ratelimit <normal ms> <priority ms> (both positive)",
		"Usage: .ratelimit <normal ms> <priority ms> (both positive)",
	}, h.out.texts())
	entries := h.drainAudit(t)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].OK)
	assert.NotEmpty(t, entries[1].Error)
}

func TestClearQueueCommand(t *testing.T) {
	h := newHarness(t, noFlood())
	h.out.cleared = 7
	h.d.Handle(modText(".clearqueue"))
	assert.Equal(t, []string{"Cleared 7 queued messages."}, h.out.texts())
	entries := h.drainAudit(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "7 dropped", entries[0].Detail)
}

func TestJoinRemembersAndGreets(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.Handle(transport.Event{Kind: transport.EventJoin, SenderHandle: "h9", SenderDisplayName: "guest-4821", Username: "sam"})

	assert.Equal(t, "sam", h.dir.Nickname("h9"))
	require.Len(t, h.out.sent, 1)
	assert.Equal(t, outbox.Normal, h.out.sent[0].class)
	assert.Equal(t, "🌿 Welcome to the green room, sam! 💨", h.out.sent[0].env.Text)
}

func TestCheersUsesRememberedNickname(t *testing.T) {
	h := newHarness(t, noFlood())
	h.dir.Remember("h1", "Ann", "ann", false, epoch)
	h.d.Handle(text(".cheers"))
	assert.Equal(t, []string{"Cheers! Smoke em if you got em! 🍻💨"}, h.out.texts())
}

func TestNoTargetDropsReplies(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.d.Targets = fixedTarget{}
	h.d.Handle(text(".rules"))
	h.d.Handle(transport.Event{Kind: transport.EventJoin, SenderHandle: "h2", SenderDisplayName: "Bo", Username: "bo"})
	assert.Empty(t, h.out.sent)
	assert.Equal(t, "Bo", h.dir.Nickname("h2"))
}

func TestFloodGuardThrottlesPerSender(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FloodRate, cfg.FloodBurst = 1, 2
	h := newHarness(t, cfg)

	for i := 0; i < 4; i++ {
		h.d.Handle(text(".rules"))
	}
	assert.Len(t, h.out.sent, 2)

	other := text(".rules")
	other.SenderHandle = "h2"
	h.d.Handle(other)
	assert.Len(t, h.out.sent, 3)

	h.clk.Advance(time.Second)
	h.d.Handle(text(".rules"))
	assert.Len(t, h.out.sent, 4)
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	h := newHarness(t, noFlood())
	h.d.commands = append([]Command{{Name: ".boom", Kind: Exact, Handle: func(*Request) error { panic("boom") }}}, h.d.commands...)
	assert.NotPanics(t, func() { h.d.Handle(text(".boom")) })
}

func TestLeadingInt(t *testing.T) {
	cases := []struct {
		in string
		n  int
		ok bool
	}{
		{"120", 120, true},
		{" 90s", 90, true},
		{"-5", -5, true},
		{"", 0, false},
		{"x1", 0, false},
	}
	for _, tc := range cases {
		n, ok := leadingInt(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.n, n, tc.in)
	}
}
