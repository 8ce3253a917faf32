package geocode

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestQuota_RefusesAfterLimit(t *testing.T) {
	q := NewQuota(3, 0)
	for range 3 {
		require.NoError(t, q.Reserve())
	}
	err := q.Reserve()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	assert.Contains(t, err.Error(), "3/3")
	assert.Equal(t, 3, q.Used())
	assert.Equal(t, 0, q.Remaining())
	assert.Equal(t, 3, q.Limit())
}

func TestQuota_ZeroLimitRefusesEverything(t *testing.T) {
	q := NewQuota(0, 0)
	assert.True(t, errors.Is(q.Reserve(), ErrQuotaExceeded))
}

func TestQuota_WindowRollsAtMidnight(t *testing.T) {
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skip("tzdata not available")
	}
	now := time.Date(2026, 5, 4, 23, 0, 0, 0, ist)
	q := NewQuota(1, 0, WithLocation(ist), WithQuotaClock(func() time.Time { return now }))

	require.NoError(t, q.Reserve())
	require.Error(t, q.Reserve())

	now = now.Add(59 * time.Minute)
	require.Error(t, q.Reserve(), "same calendar day")

	now = now.Add(2 * time.Minute)
	require.NoError(t, q.Reserve(), "new day resets the count")
	u := q.Usage()
	assert.Equal(t, 1, u.Used)
	assert.Equal(t, time.Date(2026, 5, 5, 0, 0, 0, 0, ist), u.Window)
}

func TestQuota_WarnsOncePerWindow(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	q := NewQuota(10, 3, WithQuotaClock(func() time.Time { return now }))

	for range 6 {
		require.NoError(t, q.Reserve())
	}
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, int64(3), entry.ContextMap()["quota_used"])

	now = now.Add(24 * time.Hour)
	for range 3 {
		require.NoError(t, q.Reserve())
	}
	assert.Equal(t, 2, logs.Len(), "warning repeats in the next window")
}
