package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivityWatcher_HandleMessage(t *testing.T) {
	w := NewActivityWatcher(WatcherConfig{}, []Pubkey{"wallet-a"})
	w.pending[1] = "wallet-a"

	// Subscription confirmation maps server id 42 to wallet-a.
	w.handleMessage([]byte(`{"jsonrpc":"2.0","result":42,"id":1}`))
	assert.Equal(t, Pubkey("wallet-a"), w.subs[42])
	assert.Empty(t, w.pending)

	w.handleMessage([]byte(`{"jsonrpc":"2.0","method":"logsNotification","params":{"result":{"context":{"slot":5208469},"value":{"signature":"sig-1","err":null,"logs":[]}},"subscription":42}}`))

	require.Len(t, w.out, 1)
	ev := <-w.out
	assert.Equal(t, Pubkey("wallet-a"), ev.Wallet)
	assert.Equal(t, Signature("sig-1"), ev.Signature)
	assert.Equal(t, uint64(5208469), ev.Slot)
	assert.False(t, ev.Failed)
	assert.Equal(t, int64(1), w.Stats().Events)
}

func TestActivityWatcher_FailedTransactionFlagged(t *testing.T) {
	w := NewActivityWatcher(WatcherConfig{}, nil)
	w.subs[7] = "wallet-b"

	w.handleMessage([]byte(`{"method":"logsNotification","params":{"result":{"context":{"slot":1},"value":{"signature":"sig-2","err":{"InstructionError":[0,"Custom"]}}},"subscription":7}}`))

	require.Len(t, w.out, 1)
	assert.True(t, (<-w.out).Failed)
}

func TestActivityWatcher_IgnoresUnknownSubscription(t *testing.T) {
	w := NewActivityWatcher(WatcherConfig{}, nil)

	w.handleMessage([]byte(`{"method":"logsNotification","params":{"result":{"value":{"signature":"x"}},"subscription":99}}`))
	w.handleMessage([]byte(`not json`))

	assert.Empty(t, w.out)
}

func TestActivityWatcher_Defaults(t *testing.T) {
	w := NewActivityWatcher(WatcherConfig{WSEndpoint: "ws://localhost:0"}, nil)
	def := DefaultWatcherConfig()
	assert.Equal(t, def.PingInterval, w.config.PingInterval)
	assert.Equal(t, def.ReconnectDelay, w.config.ReconnectDelay)
	assert.False(t, w.Stats().Connected)
}
