package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dialpulse/errors"
	dptest "github.com/teranos/dialpulse/internal/testing"
	"github.com/teranos/dialpulse/pulse/budget"
	"github.com/teranos/dialpulse/pulse/contacts"
	"github.com/teranos/dialpulse/pulse/execution"
	"github.com/teranos/dialpulse/pulse/membership"
	"github.com/teranos/dialpulse/pulse/queue"
	"github.com/teranos/dialpulse/telephony"
)

type fakeQueue struct {
	mu       sync.Mutex
	records  []queue.Record
	requests []int
	requeued int
}

func (q *fakeQueue) Dequeue(_ context.Context, n int) ([]queue.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = append(q.requests, n)
	if n > len(q.records) {
		n = len(q.records)
	}
	out := append([]queue.Record(nil), q.records[:n]...)
	q.records = q.records[n:]
	return out, nil
}

func (q *fakeQueue) Enqueue(_ context.Context, records []queue.Record) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, records...)
	q.requeued += len(records)
	return len(records), nil
}

func (q *fakeQueue) push(records ...queue.Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, records...)
}

func (q *fakeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

type fakeStates struct {
	mu         sync.Mutex
	profiles   map[string]execution.DialProfile
	profileErr map[string]error
	attemptErr error
	checked    [][]string
	attempted  map[string]int
	outcomes   []execution.PlacementOutcome
}

func newFakeStates() *fakeStates {
	return &fakeStates{
		profiles:   make(map[string]execution.DialProfile),
		profileErr: make(map[string]error),
		attempted:  make(map[string]int),
	}
}

func (s *fakeStates) DialProfile(_ context.Context, ceID string) (execution.DialProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.profileErr[ceID]; err != nil {
		return execution.DialProfile{}, err
	}
	p, ok := s.profiles[ceID]
	if !ok {
		return execution.DialProfile{}, errors.Wrapf(errors.ErrNotFound, "campaign execution %s", ceID)
	}
	return p, nil
}

func (s *fakeStates) CheckEndState(_ context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked = append(s.checked, ids)
	return nil
}

func (s *fakeStates) IncrementAttempted(_ context.Context, ceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attemptErr != nil {
		return s.attemptErr
	}
	s.attempted[ceID]++
	return nil
}

func (s *fakeStates) RecordPlacement(_ context.Context, o execution.PlacementOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *fakeStates) set(p execution.DialProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.CampaignExecutionID] = p
}

func (s *fakeStates) placementOutcomes() []execution.PlacementOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]execution.PlacementOutcome(nil), s.outcomes...)
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

type staticMembership membership.View

func (m staticMembership) View() membership.View {
	return membership.View(m)
}

type fixture struct {
	ctx      context.Context
	now      time.Time
	upstream *time.Location
	queue    *fakeQueue
	states   *fakeStates
	sim      *telephony.Simulator
	contacts *contacts.Store
	stats    *fakeStats
	cps      *budget.CPS
	d        *Dispatcher
}

// newFixture builds a dispatcher over fakes with a frozen clock at
// 2024-06-03 13:00 UTC (09:00 in New York).
func newFixture(t *testing.T, globalCPS int, view membership.View) *fixture {
	t.Helper()

	upstream, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	cps, err := budget.NewCPS(globalCPS)
	require.NoError(t, err)

	log := zaptest.NewLogger(t).Sugar()
	f := &fixture{
		ctx:      context.Background(),
		now:      time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC),
		upstream: upstream,
		queue:    &fakeQueue{},
		states:   newFakeStates(),
		sim:      telephony.NewSimulator(log),
		contacts: contacts.NewStore(dptest.CreateTestDB(t)),
		stats:    &fakeStats{},
		cps:      cps,
	}

	f.d, err = New(Config{
		DequeueFrequency:             time.Second,
		RingTimeoutCheckFrequency:    time.Second,
		MaxRingTimeoutHangupsPerLoop: 2,
		CheckContactBeforeCompletion: true,
		MaxRingTime:                  30 * time.Second,
		Upstream:                     upstream,
		SourcePhoneNumber:            "+15550199",
	}, Deps{
		Queue:      f.queue,
		States:     f.states,
		Executor:   f.sim,
		Contacts:   f.contacts,
		Stats:      f.stats,
		Membership: staticMembership(view),
		Budget:     cps,
	}, log)
	require.NoError(t, err)
	f.d.timeNow = func() time.Time { return f.now }
	f.d.limiter = budget.NewLimiterWithClock(1, time.Second, func() time.Time { return f.now })
	return f
}

// running registers a RUNNING execution that ends an hour from the fixture clock
func (f *fixture) running(ceID string) execution.DialProfile {
	p := execution.DialProfile{
		CampaignExecutionID: ceID,
		CampaignID:          "camp-" + ceID,
		Status:              execution.CampaignRunning,
		EndBy:               f.now.Add(time.Hour),
		SourcePhoneNumber:   "+15550100",
		Behavior:            execution.Behavior{LivePartyFlowID: "flow-live", PhoneFields: []string{"mobile", "home"}},
	}
	f.states.set(p)
	return p
}

func record(ceID string, n int) queue.Record {
	return queue.Record{
		RecordID:            fmt.Sprintf("%s-r%d", ceID, n),
		CampaignExecutionID: ceID,
		Phones:              map[string]string{"mobile": fmt.Sprintf("+1555020%04d", n)},
		Attributes:          map[string]string{"first_name": "Ada"},
	}
}

func records(ceID string, n int) []queue.Record {
	out := make([]queue.Record, n)
	for i := range out {
		out[i] = record(ceID, i)
	}
	return out
}
