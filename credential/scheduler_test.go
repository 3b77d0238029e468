package credential

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	calls atomic.Int32
}

func (c *countingRefresher) RefreshAll(ctx context.Context) (map[string]bool, error) {
	c.calls.Add(1)
	return map[string]bool{}, nil
}

func TestNextRun(t *testing.T) {
	loc := time.UTC
	before := time.Date(2024, 5, 1, 2, 59, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 5, 1, 3, 0, 0, 0, loc), nextRun(before, 3, 0))

	at := time.Date(2024, 5, 1, 3, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 5, 2, 3, 0, 0, 0, loc), nextRun(at, 3, 0))
}

func TestNewScheduler_InvalidClock(t *testing.T) {
	_, err := NewScheduler(&countingRefresher{}, "25:00", time.Minute)
	assert.Error(t, err)
	_, err = NewScheduler(&countingRefresher{}, "03:00", 0)
	assert.Error(t, err)
}

func TestScheduler_RunPendingOncePerDay(t *testing.T) {
	r := &countingRefresher{}
	s, err := NewScheduler(r, "03:00", time.Minute)
	require.NoError(t, err)
	ctx := context.Background()

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.Local)
	assert.False(t, s.RunPending(ctx, day.Add(2*time.Hour)))
	assert.False(t, s.RunPending(ctx, day.Add(2*time.Hour+59*time.Minute)))
	assert.True(t, s.RunPending(ctx, day.Add(3*time.Hour)))
	assert.False(t, s.RunPending(ctx, day.Add(3*time.Hour+time.Minute)))
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Equal(t, day.AddDate(0, 0, 1).Add(3*time.Hour), s.Next())

	// A late tick after a long pause still runs once, then reschedules.
	assert.True(t, s.RunPending(ctx, day.AddDate(0, 0, 3).Add(10*time.Hour)))
	assert.Equal(t, int32(2), r.calls.Load())
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	s, err := NewScheduler(&countingRefresher{}, "03:00", 20*time.Millisecond)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())

	assert.True(t, s.Start(ctx))
	assert.False(t, s.Start(ctx))

	cancel()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
