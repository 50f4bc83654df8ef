package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/dialpulse/errors"
)

func newTestMonitor(f *fixture) *Monitor {
	m := NewMonitor(f.manager, time.Second, zap.NewNop().Sugar())
	m.timeNow = func() time.Time { return f.now }
	return m
}

func TestMonitorMaterializesOnce(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f)

	res, err := m.Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Started)

	res, err = m.Tick(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Started, "occurrence already covered")

	live, err := f.store.ListScheduleExecutions(f.ctx, f.schedule.ID)
	require.NoError(t, err)
	assert.Len(t, live, 1)
}

func TestMonitorSkipsHolidaysAndDisabled(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f)

	require.NoError(t, f.store.SaveHoliday(f.ctx, Holiday{ID: "h1", Name: "Closed", ISODate: "2024-06-03"}))
	res, err := m.Tick(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Started)

	require.NoError(t, f.store.DeleteHoliday(f.ctx, "h1"))
	f.schedule.Disabled = true
	require.NoError(t, f.store.SaveSchedule(f.ctx, f.schedule))
	res, err = m.Tick(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Started)
}

func TestMonitorSweepsExpiredExecutions(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f)

	_, err := m.Tick(f.ctx)
	require.NoError(t, err)

	f.now = time.Date(2024, 6, 3, 10, 0, 1, 0, time.UTC)
	res, err := m.Tick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Swept)
	assert.Zero(t, res.Started, "window closed")

	live, err := f.store.ListScheduleExecutions(f.ctx, "")
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestMonitorRunStopsWithContext(t *testing.T) {
	f := newFixture(t)
	m := newTestMonitor(f)

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool {
		live, err := f.store.ListScheduleExecutions(f.ctx, f.schedule.ID)
		return err == nil && len(live) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestDeleteHolidayMissing(t *testing.T) {
	f := newFixture(t)
	assert.True(t, errors.IsNotFoundError(f.store.DeleteHoliday(f.ctx, "nope")))
}
