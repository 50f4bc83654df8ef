package membership

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	dptest "github.com/teranos/dialpulse/internal/testing"
	"github.com/teranos/dialpulse/pulse/budget"
)

func newMember(t *testing.T, db *sql.DB, id string, now *time.Time) *Membership {
	t.Helper()
	m := New(db, id, 15*time.Second, zaptest.NewLogger(t).Sugar())
	m.timeNow = func() time.Time { return *now }
	return m
}

func TestViewBeforeHeartbeatIsLoneInstance(t *testing.T) {
	db := dptest.CreateTestDB(t)
	m := New(db, "", time.Second, zaptest.NewLogger(t).Sugar())

	assert.NotEmpty(t, m.InstanceID())
	assert.Equal(t, 1, m.ActiveInstanceCount())
	assert.Equal(t, 0, m.OrdinalPosition())
}

func TestOrdinalsFollowJoinOrder(t *testing.T) {
	ctx := context.Background()
	db := dptest.CreateTestDB(t)
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

	a := newMember(t, db, "a", &now)
	_, err := a.Heartbeat(ctx)
	require.NoError(t, err)

	now = now.Add(time.Second)
	c := newMember(t, db, "c", &now)
	_, err = c.Heartbeat(ctx)
	require.NoError(t, err)

	now = now.Add(time.Second)
	b := newMember(t, db, "b", &now)
	view, err := b.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, View{Instances: 3, Position: 2}, view)

	// Refresh the earlier joiners so every view agrees
	for _, m := range []*Membership{a, c} {
		_, err := m.Heartbeat(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, View{Instances: 3, Position: 0}, a.View())
	assert.Equal(t, View{Instances: 3, Position: 1}, c.View())

	// Shares across the agreed view add up to the global budget
	sum := 0
	for _, m := range []*Membership{a, b, c} {
		sum += budget.FairShare(10, m.ActiveInstanceCount(), m.OrdinalPosition())
	}
	assert.Equal(t, 10, sum)
}

func TestExpiredPeerIsDropped(t *testing.T) {
	ctx := context.Background()
	db := dptest.CreateTestDB(t)
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

	a := newMember(t, db, "a", &now)
	b := newMember(t, db, "b", &now)
	_, err := a.Heartbeat(ctx)
	require.NoError(t, err)
	now = now.Add(time.Millisecond)
	_, err = b.Heartbeat(ctx)
	require.NoError(t, err)

	// a stops heartbeating; b outlives the expiry
	now = now.Add(20 * time.Second)
	view, err := b.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, View{Instances: 1, Position: 0}, view)
}

func TestLeave(t *testing.T) {
	ctx := context.Background()
	db := dptest.CreateTestDB(t)
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

	a := newMember(t, db, "a", &now)
	b := newMember(t, db, "b", &now)
	_, err := a.Heartbeat(ctx)
	require.NoError(t, err)
	_, err = b.Heartbeat(ctx)
	require.NoError(t, err)

	require.NoError(t, a.Leave(ctx))
	view, err := b.Heartbeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Instances)
}

func TestViewOfMissingSelf(t *testing.T) {
	assert.Equal(t, View{Instances: 3, Position: 2}, viewOf([]string{"x", "y"}, "z"))
	assert.Equal(t, View{Instances: 1, Position: 0}, viewOf(nil, "z"))
}

func TestRunLeavesOnCancel(t *testing.T) {
	db := dptest.CreateTestDB(t)
	m := New(db, "runner", time.Minute, zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		var n int
		db.QueryRow(`SELECT COUNT(*) FROM instances WHERE instance_id = 'runner'`).Scan(&n)
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM instances`).Scan(&n))
	assert.Equal(t, 0, n)
}
