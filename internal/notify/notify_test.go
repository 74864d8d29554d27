package notify

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/deckstore/internal/deck"
)

var storm = deck.Storm{Basin: "AL", Year: 2021, CycloneNum: 9}

func sample() deck.Notification {
	dtg := time.Date(2021, 9, 1, 6, 0, 0, 0, time.UTC)
	return deck.NewNotification(time.Date(2021, 9, 2, 0, 0, 0, 0, time.UTC), deck.A, storm, deck.NoSandbox, deck.NotifyUser,
		[]deck.ConflictSandbox{{SandboxID: 4, DTG: &dtg}, {SandboxID: 7}})
}

func TestChannelNotifier_Delivers(t *testing.T) {
	c := NewChannelNotifier()
	ch, cancel := c.Subscribe(4)
	defer cancel()

	n := sample()
	c.Notify(context.Background(), n)

	select {
	case got := <-ch:
		assert.Equal(t, n, got)
	default:
		t.Fatal("notification not delivered")
	}
}

func TestChannelNotifier_DropsWhenFull(t *testing.T) {
	c := NewChannelNotifier()
	ch, cancel := c.Subscribe(1)
	defer cancel()

	c.Notify(context.Background(), sample())
	c.Notify(context.Background(), sample())

	assert.Len(t, ch, 1)
	assert.Equal(t, 1, c.Dropped())
}

func TestChannelNotifier_Unsubscribe(t *testing.T) {
	c := NewChannelNotifier()
	ch, cancel := c.Subscribe(1)
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	c.Notify(context.Background(), sample())
	assert.Zero(t, c.Dropped())
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	n := sample()
	l.Notify(context.Background(), n)

	out := buf.String()
	assert.Contains(t, out, "deck changed")
	assert.Contains(t, out, "notification="+n.ID)
	assert.Contains(t, out, "storm=AL092021")
	assert.Contains(t, out, "invalidated=\"[4 7]\"")
}

func TestMultiAndRecorder(t *testing.T) {
	var a, b Recorder
	m := Multi{&a, Discard{}, &b}

	n := sample()
	m.Notify(context.Background(), n)

	require.Len(t, a.Notifications(), 1)
	require.Len(t, b.Notifications(), 1)
	assert.Equal(t, n.ID, b.Notifications()[0].ID)
	assert.NotEmpty(t, n.ID)
}
