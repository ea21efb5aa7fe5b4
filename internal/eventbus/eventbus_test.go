package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu  sync.Mutex
	got []string
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	msg, err := Decode[ChatMessage](ev)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.got = append(c.got, msg.Text)
	c.mu.Unlock()
}

func (c *collector) texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...)
}

func TestMemoryBusKeepsOrder(t *testing.T) {
	bus := NewMemoryBus(64)
	defer bus.Close()

	var c collector
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{EventChatMessage}}, c.handle)
	require.NoError(t, err)

	want := []string{"раз", "два", "три", "четыре"}
	for _, text := range want {
		ev, err := NewEnvelope("world-a", EventChatMessage, ChatMessage{World: "world-a", Text: text})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}

	assert.Eventually(t, func() bool { return len(c.texts()) == len(want) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, c.texts(), "подписчик получает события в порядке публикации")
	assert.Equal(t, uint64(len(want)), bus.Metrics().Published)
}

func TestMemoryBusFilters(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var own, foreign collector
	_, err := bus.Subscribe(context.Background(), Filter{ExcludeSource: "world-a"}, foreign.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), Filter{Sources: []string{"world-a"}}, own.handle)
	require.NoError(t, err)

	for _, src := range []string{"world-a", "world-b"} {
		ev, err := NewEnvelope(src, EventChatMessage, ChatMessage{World: src, Text: src})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}

	assert.Eventually(t, func() bool {
		return len(own.texts()) == 1 && len(foreign.texts()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"world-a"}, own.texts())
	assert.Equal(t, []string{"world-b"}, foreign.texts(), "собственные события отфильтрованы")
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.Close())

	ev, err := NewEnvelope("world-a", EventWorldSaved, WorldSaved{World: "world-a"})
	require.NoError(t, err)
	assert.ErrorIs(t, bus.Publish(context.Background(), ev), ErrBusClosed)
	_, err = bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) {})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode[ChatMessage](&Envelope{EventType: EventChatMessage, Payload: []byte("{")})
	assert.Error(t, err)
}
