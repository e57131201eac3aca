package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConnectWithoutBrokerIsNop(t *testing.T) {
	p, err := Connect("", "rover-test", zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, p)
	assert.NoError(t, p.Publish("rover/proximity", map[string]int{"min_cm": 90}))
	p.Close()
}

func TestMemoryKeepsLastPerTopic(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Publish("rover/nav/status", map[string]string{"state": "ACTIVE"}))
	require.NoError(t, m.Publish("rover/nav/status", map[string]string{"state": "STOPPED"}))

	var got map[string]string
	require.True(t, m.Last("rover/nav/status", &got))
	assert.Equal(t, "STOPPED", got["state"])
	assert.Equal(t, 2, m.Count())
	assert.False(t, m.Last("rover/other", &got))

	assert.Error(t, m.Publish("bad", func() {}))
}
