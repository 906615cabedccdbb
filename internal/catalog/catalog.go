// Package catalog holds the bot's canned texts. A Catalog is immutable; the
// Holder swaps in a new one when configuration is reloaded.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
)

type Key string

const (
	FourTwenty       Key = "four_twenty"
	RulesImage       Key = "rules_image"
	SuggestionsLink  Key = "suggestions_link"
	Suggestion       Key = "suggestion"
	TokeInvalid      Key = "toke_invalid_duration"
	TokeStart        Key = "toke_start"
	TokeRemaining    Key = "toke_remaining"
	TokeShort        Key = "toke_short"
	TokeFinalSecond  Key = "toke_final_second"
	TokeFinal        Key = "toke_final"
	TokeCancelled    Key = "toke_cancelled"
	Cheers           Key = "cheers"
	Pong             Key = "pong"
	Welcome          Key = "welcome"
	RateLimitUpdated Key = "ratelimit_updated"
	RateLimitInvalid Key = "ratelimit_invalid"
	QueueCleared     Key = "queue_cleared"
)

var defaults = map[Key]string{
	FourTwenty:       "🌲 It's 4:20 somewhere! Smoke em if you got em! 💨",
	RulesImage:       "https://i.imgur.com/dSWT06e.png",
	SuggestionsLink:  "https://forms.gle/phdBT3mEBgJ7wtAJ7",
	Suggestion:       "Got a suggestion? Tell us here! \n{link}",
	TokeInvalid:      "Please specify a valid duration between {min}-{max} seconds (e.g., .toke 120)",
	TokeStart:        "🔥 TOKE COUNTDOWN STARTED: {seconds} SECONDS 🔥",
	TokeRemaining:    "⏱️ {seconds} seconds remaining until toke time!",
	TokeShort:        "⏱️ {seconds} seconds remaining!",
	TokeFinalSecond:  "{seconds}...",
	TokeFinal:        "🔥🔥🔥 LETS TOKE  🔥🔥🔥",
	TokeCancelled:    "🛑 Toke countdown cancelled.",
	Cheers:           "Cheers! Smoke em if you got em! 🍻💨",
	Pong:             "PONG",
	Welcome:          "Welcome, {name}!",
	RateLimitUpdated: "Rate limit: {message}ms normal, {priority}ms priority.",
	RateLimitInvalid: "Usage: .ratelimit <normal ms> <priority ms> (both positive)",
	QueueCleared:     "Cleared {count} queued messages.",
}

var defaultGreetings = []string{
	"🌿 Welcome to the green room, {name}! 💨",
	"🔥 Ayy {name} has joined the session! Pass them the virtual blunt! 🚬",
	"💨 Look who rolled in - it's {name}! Time to elevate! 🌿",
	"🌲 {name} has entered the cipher! Keep it lit! 🔥",
	"🍁 Welcome to the smoke circle, {name}! 💨",
	"💚 {name} just dropped into the green zone! 🌿",
	"🔥 {name} has joined! Time to pass the peace pipe! 💨",
	"🌿 Welcome aboard the chill train, {name}! 🚂💨",
	"💨 {name} is here to blaze a trail! 🔥",
	"🌲 {name} just sparked up the chat! Let's get lifted! 💨",
}

type Catalog struct {
	texts      map[Key]string
	greetings  []string
	flourishes []string
}

// Overrides replaces texts by key. Empty slices keep the defaults.
type Overrides struct {
	Texts      map[string]string
	Greetings  []string
	Flourishes []string
}

func Default() *Catalog {
	c := &Catalog{texts: make(map[Key]string, len(defaults)), greetings: append([]string(nil), defaultGreetings...)}
	for k, v := range defaults {
		c.texts[k] = v
	}
	return c
}

// New builds a catalog from the defaults plus overrides. Unknown keys are an error.
func New(o Overrides) (*Catalog, error) {
	c := Default()
	var unknown []string
	for k, v := range o.Texts {
		key := Key(strings.TrimSpace(k))
		if _, ok := defaults[key]; !ok {
			unknown = append(unknown, k)
			continue
		}
		c.texts[key] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("catalog: unknown message keys: %s", strings.Join(unknown, ", "))
	}
	if len(o.Greetings) > 0 {
		c.greetings = append([]string(nil), o.Greetings...)
	}
	c.flourishes = append([]string(nil), o.Flourishes...)
	return c, nil
}

// Render returns the text for k with {placeholder} values substituted.
// vars are name/value pairs.
func (c *Catalog) Render(k Key, vars ...string) string {
	s := c.texts[k]
	if len(vars) < 2 {
		return s
	}
	pairs := make([]string, 0, len(vars))
	for i := 0; i+1 < len(vars); i += 2 {
		pairs = append(pairs, "{"+vars[i]+"}", vars[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func (c *Catalog) GreetingCount() int { return len(c.greetings) }

// Greeting renders greeting i (modulo the list length) for name.
func (c *Catalog) Greeting(i int, name string) string {
	if len(c.greetings) == 0 {
		return c.Render(Welcome, "name", name)
	}
	if i < 0 {
		i = -i
	}
	return strings.ReplaceAll(c.greetings[i%len(c.greetings)], "{name}", name)
}

// Flourishes are sent after the countdown finale.
func (c *Catalog) Flourishes() []string { return append([]string(nil), c.flourishes...) }

// Holder gives concurrent readers the current catalog.
type Holder struct {
	p atomic.Pointer[Catalog]
}

func NewHolder(c *Catalog) *Holder {
	h := &Holder{}
	if c == nil {
		c = Default()
	}
	h.p.Store(c)
	return h
}

func (h *Holder) Current() *Catalog { return h.p.Load() }

func (h *Holder) Swap(c *Catalog) {
	if c != nil {
		h.p.Store(c)
	}
}

// Has reports whether k names a catalog text.
func (c *Catalog) Has(k Key) bool {
	_, ok := c.texts[k]
	return ok
}
