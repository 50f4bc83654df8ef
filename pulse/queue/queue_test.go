package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dptest "github.com/teranos/dialpulse/internal/testing"
)

func records(ceID string, n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = Record{
			RecordID:            fmt.Sprintf("r%d", i),
			CampaignExecutionID: ceID,
			Phones:              map[string]string{"mobile": fmt.Sprintf("+1555000%04d", i)},
		}
	}
	return out
}

func TestEnqueueDequeueOldestFirst(t *testing.T) {
	s := NewStore(dptest.CreateTestDB(t))
	ctx := context.Background()

	n, err := s.Enqueue(ctx, records("ce-1", 5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := s.Dequeue(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"r0", "r1", "r2"}, []string{got[0].RecordID, got[1].RecordID, got[2].RecordID})
	assert.Equal(t, "+15550000000", got[0].Phones["mobile"])

	left, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, left)

	got, err = s.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Dequeue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDequeueSkipsPausedExecutions(t *testing.T) {
	db := dptest.CreateTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	_, err := db.Exec(`
		INSERT INTO campaigns (id, name, created_at, updated_at) VALUES ('c', 'c', 0, 0);
		INSERT INTO schedules (id, campaign_id, name, calendar, duration_minutes, loops, created_at, updated_at)
			VALUES ('s', 'c', 's', '{}', 60, 1, 0, 0);
		INSERT INTO schedule_executions (id, schedule_id, campaign_id, status, occurrence_start, duration_minutes, timezone, created_at, updated_at)
			VALUES ('se', 's', 'c', 'RUNNING', 0, 60, 'UTC', 0, 0);
		INSERT INTO campaign_executions (id, schedule_execution_id, schedule_id, campaign_id, sequence_index, sequence_loop, sequence_name, status, end_by, created_at, updated_at)
			VALUES ('paused', 'se', 's', 'c', 0, 0, 'a', 'PAUSED', 0, 0, 0),
			       ('running', 'se', 's', 'c', 0, 0, 'a', 'RUNNING', 0, 0, 0);`)
	require.NoError(t, err)

	_, err = s.Enqueue(ctx, records("paused", 2))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, records("running", 2))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, records("orphan", 1))
	require.NoError(t, err)

	got, err := s.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3, "running and orphaned records are handed out")
	for _, r := range got {
		assert.NotEqual(t, "paused", r.CampaignExecutionID)
	}

	pending, err := s.Pending(ctx, "paused")
	require.NoError(t, err)
	assert.Equal(t, 2, pending)
}

func TestReleaseDropsOneExecution(t *testing.T) {
	s := NewStore(dptest.CreateTestDB(t))
	ctx := context.Background()

	_, err := s.Enqueue(ctx, records("a", 3))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, records("b", 2))
	require.NoError(t, err)

	released, err := s.Release(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 3, released)

	left, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, left)
}

func TestEnqueueRejectsIncompleteRecord(t *testing.T) {
	s := NewStore(dptest.CreateTestDB(t))
	_, err := s.Enqueue(context.Background(), []Record{{RecordID: "r1"}})
	assert.Error(t, err)

	left, err := s.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, left, "a rejected batch stores nothing")
}

func TestConcurrentDequeueHandsOutEachRecordOnce(t *testing.T) {
	s := NewStore(dptest.CreateTestDB(t))
	ctx := context.Background()

	_, err := s.Enqueue(ctx, records("ce", 100))
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[string]int{}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				got, err := s.Dequeue(ctx, 7)
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, r := range got {
					seen[r.RecordID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	for id, n := range seen {
		assert.Equal(t, 1, n, "record %s", id)
	}
}
