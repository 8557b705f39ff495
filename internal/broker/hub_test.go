package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bootstrapHub(t *testing.T) (*Hub, context.CancelFunc) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	hub := NewHub(logger.Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	return hub, cancel
}

func receive(t *testing.T, sub *Subscriber) []byte {
	select {
	case payload, ok := <-sub.C():
		require.True(t, ok, "subscriber channel closed unexpectedly")
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestEmitFanOut(t *testing.T) {
	t.Parallel()

	hub, cancel := bootstrapHub(t)
	defer cancel()

	first := hub.Subscribe()
	second := hub.Subscribe()

	hub.Emit("createRoom", map[string]interface{}{"id": 1, "name": "Team"})

	for _, sub := range []*Subscriber{first, second} {
		var event Event
		require.NoError(t, json.Unmarshal(receive(t, sub), &event))
		require.Equal(t, "createRoom", event.Name)

		data, ok := event.Data.(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, "Team", data["name"])
	}
}

func TestEmitAfterUnsubscribe(t *testing.T) {
	t.Parallel()

	hub, cancel := bootstrapHub(t)
	defer cancel()

	kept := hub.Subscribe()
	dropped := hub.Subscribe()

	hub.Unsubscribe(dropped)

	// channel of a removed subscriber is closed
	select {
	case _, ok := <-dropped.C():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	hub.Emit("createMessage", map[string]interface{}{"id": 1})

	var event Event
	require.NoError(t, json.Unmarshal(receive(t, kept), &event))
	require.Equal(t, "createMessage", event.Name)
}

func TestShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	hub, cancel := bootstrapHub(t)

	sub := hub.Subscribe()
	cancel()

	select {
	case _, ok := <-sub.C():
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel close")
	}

	// emit after shutdown is a no-op, not a deadlock
	hub.Emit("createMessage", map[string]interface{}{"id": 1})
}

func TestEmitUnmarshalablePayloadDropped(t *testing.T) {
	t.Parallel()

	hub, cancel := bootstrapHub(t)
	defer cancel()

	sub := hub.Subscribe()

	hub.Emit("bad", func() {}) // functions cannot be marshaled
	hub.Emit("good", map[string]interface{}{"id": 1})

	var event Event
	require.NoError(t, json.Unmarshal(receive(t, sub), &event))
	require.Equal(t, "good", event.Name)
}
