package retransmit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFakeClock(t *testing.T) *time.Time {
	t.Helper()
	now := time.Now()
	old := nowFunc
	nowFunc = func() time.Time { return now }
	t.Cleanup(func() { nowFunc = old })
	return &now
}

func TestTransportTimerDisabledWhenLocalAckTimeoutZero(t *testing.T) {
	tr := NewTransportTimer(0)
	tr.Reset()
	timedOut, err := tr.CheckTimeout()
	require.NoError(t, err)
	assert.False(t, timedOut)
}

func TestTransportTimerFiresAfterInterval(t *testing.T) {
	now := withFakeClock(t)
	tr := NewTransportTimer(1) // 4096*2 = 8192ns
	tr.Reset()

	timedOut, err := tr.CheckTimeout()
	require.NoError(t, err)
	assert.False(t, timedOut)

	*now = now.Add(9000 * time.Nanosecond)
	timedOut, err = tr.CheckTimeout()
	require.NoError(t, err)
	assert.True(t, timedOut)
}

func TestTransportTimerExhaustsRetryBudget(t *testing.T) {
	now := withFakeClock(t)
	tr := NewTransportTimer(1)
	tr.Reset()

	for i := 0; i < InitRetryCount; i++ {
		*now = now.Add(9000 * time.Nanosecond)
		timedOut, err := tr.CheckTimeout()
		require.NoError(t, err)
		assert.True(t, timedOut)
	}

	*now = now.Add(9000 * time.Nanosecond)
	_, err := tr.CheckTimeout()
	assert.ErrorIs(t, err, ErrRetryExhausted)
}
