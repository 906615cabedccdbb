package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderPlaceholders(t *testing.T) {
	c := Default()
	assert.Equal(t, "🔥 TOKE COUNTDOWN STARTED: 120 SECONDS 🔥", c.Render(TokeStart, "seconds", "120"))
	assert.Equal(t, "Please specify a valid duration between 60-240 seconds (e.g., .toke 120)", c.Render(TokeInvalid, "min", "60", "max", "240"))
	assert.Equal(t, "PONG", c.Render(Pong))
	assert.Equal(t, "Got a suggestion? Tell us here! \nhttps://x", c.Render(Suggestion, "link", "https://x"))
}

func TestOverrides(t *testing.T) {
	c, err := New(Overrides{
		Texts:      map[string]string{"pong": "pong!"},
		Greetings:  []string{"hi {name}"},
		Flourishes: []string{"💨", "🔥"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pong!", c.Render(Pong))
	assert.Equal(t, "hi bob", c.Greeting(7, "bob"))
	assert.Equal(t, []string{"💨", "🔥"}, c.Flourishes())

	_, err = New(Overrides{Texts: map[string]string{"nope": "x"}})
	assert.ErrorContains(t, err, "nope")
}

func TestGreetingsWrap(t *testing.T) {
	c := Default()
	require.Equal(t, 10, c.GreetingCount())
	assert.Equal(t, c.Greeting(0, "ann"), c.Greeting(10, "ann"))
	assert.Contains(t, c.Greeting(3, "ann"), "ann")
}

func TestHolderSwap(t *testing.T) {
	h := NewHolder(nil)
	assert.Equal(t, "PONG", h.Current().Render(Pong))
	c, err := New(Overrides{Texts: map[string]string{"pong": "P"}})
	require.NoError(t, err)
	h.Swap(c)
	h.Swap(nil)
	assert.Equal(t, "P", h.Current().Render(Pong))
}
