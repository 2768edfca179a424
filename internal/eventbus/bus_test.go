package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryBusFanOutToSubscribers(t *testing.T) {
	b := NewMemoryBus()
	ch1, cancel1, err := b.Subscribe("engine.frame")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := b.Subscribe("engine.frame")
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, b.Publish("engine.frame", map[string]string{"status": "ok"}))

	select {
	case msg := <-ch1:
		require.Contains(t, string(msg), "ok")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ch1")
	}
	select {
	case msg := <-ch2:
		require.Contains(t, string(msg), "ok")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ch2")
	}
}

func TestMemoryBusUnrelatedSubjectDoesNotReceive(t *testing.T) {
	b := NewMemoryBus()
	ch, cancel, err := b.Subscribe("other.subject")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish("engine.frame", map[string]string{"status": "ok"}))

	select {
	case <-ch:
		t.Fatal("unexpected message on unrelated subject")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusCancelStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	ch, cancel, err := b.Subscribe("s")
	require.NoError(t, err)
	cancel()

	require.NoError(t, b.Publish("s", "x"))
	_, open := <-ch
	require.False(t, open)
}
