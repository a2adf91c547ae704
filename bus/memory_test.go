package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luhtfiimanal/go-serial-topics/topic"
)

func receive(t *testing.T, sub *Subscription) string {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return msg
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

func requireEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case msg := <-sub.C:
		t.Fatalf("unexpected message %q", msg)
	default:
	}
}

func TestMemory_BroadcastToAllSubscribers(t *testing.T) {
	m := NewMemory()
	t.Cleanup(func() { m.Close() })

	pub, err := m.Advertise("serial_GPGGA", topic.DefaultPublisherOptions())
	require.NoError(t, err)

	a, err := m.Subscribe("serial_GPGGA")
	require.NoError(t, err)
	b, err := m.Subscribe("serial_GPGGA")
	require.NoError(t, err)

	require.NoError(t, pub.Publish("$GPGGA,1"))
	assert.Equal(t, "$GPGGA,1", receive(t, a))
	assert.Equal(t, "$GPGGA,1", receive(t, b))
}

func TestMemory_NewestWinsAtDepthOne(t *testing.T) {
	m := NewMemory()
	pub, err := m.Advertise("serial_GPGGA", topic.DefaultPublisherOptions())
	require.NoError(t, err)
	sub, err := m.Subscribe("serial_GPGGA")
	require.NoError(t, err)

	require.NoError(t, pub.Publish("first"))
	require.NoError(t, pub.Publish("second"))

	assert.Equal(t, "second", receive(t, sub))
	requireEmpty(t, sub)
}

func TestMemory_DeeperQueueKeepsNewest(t *testing.T) {
	m := NewMemory()
	pub, err := m.Advertise("serial_X", topic.PublisherOptions{QueueDepth: 2})
	require.NoError(t, err)
	sub, err := m.Subscribe("serial_X")
	require.NoError(t, err)

	for _, p := range []string{"1", "2", "3"} {
		require.NoError(t, pub.Publish(p))
	}
	assert.Equal(t, "2", receive(t, sub))
	assert.Equal(t, "3", receive(t, sub))
}

func TestMemory_NotLatched(t *testing.T) {
	m := NewMemory()
	pub, err := m.Advertise("serial_GPRMC", topic.DefaultPublisherOptions())
	require.NoError(t, err)
	require.NoError(t, pub.Publish("before"))

	late, err := m.Subscribe("serial_GPRMC")
	require.NoError(t, err)
	requireEmpty(t, late)
}

func TestMemory_Latched(t *testing.T) {
	m := NewMemory()
	pub, err := m.Advertise("serial_CFG", topic.PublisherOptions{QueueDepth: 1, Latched: true})
	require.NoError(t, err)
	require.NoError(t, pub.Publish("cfg"))

	late, err := m.Subscribe("serial_CFG")
	require.NoError(t, err)
	assert.Equal(t, "cfg", receive(t, late))
}

func TestMemory_SubscribeBeforeAdvertise(t *testing.T) {
	m := NewMemory()
	sub, err := m.Subscribe("serial_GPGSV")
	require.NoError(t, err)
	assert.Empty(t, m.Topics())

	pub, err := m.Advertise("serial_GPGSV", topic.DefaultPublisherOptions())
	require.NoError(t, err)
	require.NoError(t, pub.Publish("sat"))

	assert.Equal(t, "sat", receive(t, sub))
	assert.Equal(t, []string{"serial_GPGSV"}, m.Topics())
}

func TestMemory_InvalidNames(t *testing.T) {
	m := NewMemory()
	for _, name := range []string{"", "serial_GP GGA", "serial_*", "1abc", "serial-x"} {
		_, err := m.Advertise(name, topic.DefaultPublisherOptions())
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	_, err := m.Advertise("serial_ok", topic.PublisherOptions{QueueDepth: 0})
	assert.Error(t, err)
}

func TestMemory_CloseClosesSubscriptions(t *testing.T) {
	m := NewMemory()
	pub, err := m.Advertise("serial_A", topic.DefaultPublisherOptions())
	require.NoError(t, err)
	sub, err := m.Subscribe("serial_A")
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	_, ok := <-sub.C
	assert.False(t, ok)
	require.NoError(t, pub.Publish("after unsubscribe"))

	other, err := m.Subscribe("serial_A")
	require.NoError(t, err)
	require.NoError(t, m.Close())
	_, ok = <-other.C
	assert.False(t, ok)

	_, err = m.Subscribe("serial_A")
	assert.ErrorIs(t, err, ErrBusClosed)
}
