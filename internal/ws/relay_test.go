package ws

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relayErrors(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "collab_relay_errors_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatal("relay error counter not registered")
	return 0
}

func TestRelayDecodeCountsMalformedMessages(t *testing.T) {
	relay := &RedisRelay{channel: relayChannel}
	before := relayErrors(t)

	var msg RelayMessage
	require.Error(t, relay.decode("not json", &msg))
	assert.Equal(t, before+1, relayErrors(t))

	require.NoError(t, relay.decode(`{"origin":"n2","kind":"close_room","room":"chat-4"}`, &msg))
	assert.Equal(t, RelayMessage{Origin: "n2", Kind: RelayCloseRoom, Room: "chat-4"}, msg)
	assert.Equal(t, before+1, relayErrors(t))
}
