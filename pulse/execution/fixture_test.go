package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	dptest "github.com/teranos/dialpulse/internal/testing"
	"github.com/teranos/dialpulse/internal/util"
	"github.com/teranos/dialpulse/pulse/control"
	"github.com/teranos/dialpulse/pulse/pacing"
	"github.com/teranos/dialpulse/pulse/queue"
	"github.com/teranos/dialpulse/pulse/recurrence"
)

type fakePublisher struct {
	mu      sync.Mutex
	signals []control.CampaignSignal
	fail    error
}

func (p *fakePublisher) PublishCampaign(_ context.Context, s control.CampaignSignal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.signals = append(p.signals, s)
	return nil
}

type fakeContacts struct {
	removed []string
}

func (c *fakeContacts) Remove(_ context.Context, id string) (bool, error) {
	c.removed = append(c.removed, id)
	return true, nil
}

type statEvent struct {
	key      string
	counters []string
	corr     string
	source   string
}

type fakeStats struct {
	mu     sync.Mutex
	events []statEvent
}

func (s *fakeStats) Record(_ context.Context, key string, counters []string, _ time.Time, corr, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, statEvent{key, counters, corr, source})
	return nil
}

type fixture struct {
	ctx       context.Context
	now       time.Time
	store     *Store
	queue     *queue.Store
	publisher *fakePublisher
	contacts  *fakeContacts
	stats     *fakeStats
	manager   *Manager
	campaign  *Campaign
	schedule  *Schedule
}

// newFixture wires a manager over a migrated database. The clock sits ten
// minutes into the 09:00 UTC occurrence of 2024-06-03.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := dptest.CreateTestDB(t)
	f := &fixture{
		ctx:       context.Background(),
		now:       time.Date(2024, 6, 3, 9, 10, 0, 0, time.UTC),
		store:     NewStore(db),
		queue:     queue.NewStore(db),
		publisher: &fakePublisher{},
		contacts:  &fakeContacts{},
		stats:     &fakeStats{},
	}
	clock := func() time.Time { return f.now }
	f.store.timeNow = clock

	registry, err := NewRegistry()
	require.NoError(t, err)

	f.manager = NewManager(f.store, registry, Collaborators{
		Publisher: f.publisher,
		Records:   f.queue,
		Contacts:  f.contacts,
		Stats:     f.stats,
	}, 3.0, zaptest.NewLogger(t).Sugar())
	f.manager.timeNow = clock

	f.campaign = &Campaign{
		ID:                "camp-1",
		Name:              "Renewals",
		SourcePhoneNumber: "+15550100",
		Pacing:            pacing.Pacing{InitialCPA: util.Ptr(20.0)},
	}
	require.NoError(t, f.store.SaveCampaign(f.ctx, f.campaign))

	f.schedule = &Schedule{
		Schedule: recurrence.Schedule{
			Calendar: recurrence.Calendar{
				Timezone:  "UTC",
				Recurring: &recurrence.Recurring{Start: "2024-06-01T09:00", Rule: "FREQ=DAILY"},
			},
			DurationMinutes: 60,
		},
		ID:         "sch-1",
		CampaignID: "camp-1",
		Name:       "Morning",
		Loops:      2,
		Sequences: []Sequence{
			{Name: "first", Behavior: Behavior{LivePartyFlowID: "flow-live", PhoneFields: []string{"mobile"}}},
			{Name: "second", Pacing: &pacing.Pacing{MaxCPA: util.Ptr(1.5)}, ClearStats: true},
		},
		Pacing: pacing.Pacing{MaxCPA: util.Ptr(2.0)},
	}
	require.NoError(t, f.store.SaveSchedule(f.ctx, f.schedule))
	return f
}

// start materializes the running occurrence
func (f *fixture) start(t *testing.T) *ScheduleExecution {
	t.Helper()
	occ, ok, err := f.schedule.RunningTimeAt(f.now, nil)
	require.NoError(t, err)
	require.True(t, ok)
	se, err := f.manager.StartOccurrence(f.ctx, f.schedule, occ)
	require.NoError(t, err)
	return se
}

func (f *fixture) reloadSE(t *testing.T, id string) *ScheduleExecution {
	t.Helper()
	se, err := f.store.GetScheduleExecution(f.ctx, id)
	require.NoError(t, err)
	return se
}

func (f *fixture) currentCE(t *testing.T, seID string) *CampaignExecution {
	t.Helper()
	se := f.reloadSE(t, seID)
	require.NotEmpty(t, se.CurrentCampaignExecutionID)
	ce, err := f.store.GetCampaignExecution(f.ctx, se.CurrentCampaignExecutionID)
	require.NoError(t, err)
	return ce
}
