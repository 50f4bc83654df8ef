package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/dialpulse/pulse/contacts"
	"github.com/teranos/dialpulse/pulse/membership"
	"github.com/teranos/dialpulse/pulse/stats"
	"github.com/teranos/dialpulse/telephony"
)

// ring places a simulated call and tracks it as ringing since age ago
func (f *fixture) ring(t *testing.T, age time.Duration) string {
	t.Helper()
	id, err := f.sim.PlaceCall(f.ctx, telephony.CallRequest{Destination: "+15550300", FlowID: "flow-live"})
	require.NoError(t, err)
	require.NoError(t, f.contacts.Track(f.ctx, contacts.Ringing{
		ContactID:           id,
		CampaignExecutionID: "ce-1",
		CampaignID:          "camp-ce-1",
		RecordID:            "ce-1-r" + id,
		PhoneNumber:         "+15550300",
		StartedAt:           f.now.Add(-age),
	}))
	return id
}

func TestReapTickStartupPurgeThenTimeouts(t *testing.T) {
	f := newFixture(t, 1, membership.View{Instances: 1})

	f.ring(t, 5*time.Minute)
	f.ring(t, 90*time.Second)
	answered := f.ring(t, 45*time.Second)
	stuck := f.ring(t, 40*time.Second)
	next := f.ring(t, 35*time.Second)
	fresh := f.ring(t, 10*time.Second)

	res, err := f.d.ReapTick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{Purged: 2}, res, "first tick only clears leftovers")

	require.NoError(t, f.sim.Answer(answered))

	res, err = f.d.ReapTick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{Terminated: 1, Released: 1}, res, "two oldest per tick")

	require.Len(t, f.stats.events, 1)
	assert.Equal(t, statEvent{
		key:      "camp-ce-1",
		counters: []string{stats.CounterAbandonedIVR},
		corr:     stuck,
		source:   stats.SourceReaper,
	}, f.stats.events[0])

	res, err = f.d.ReapTick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{Terminated: 1}, res)

	ended := f.sim.InState(telephony.StateEnded)
	assert.ElementsMatch(t, []string{stuck, next}, ended)
	assert.Equal(t, []string{answered}, f.sim.InState(telephony.StateConnected), "answered call is left alone")

	left, err := f.contacts.OlderThan(f.ctx, f.now, 0)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, fresh, left[0].ContactID)
}

func TestReapTickReleasesUnknownContacts(t *testing.T) {
	f := newFixture(t, 1, membership.View{Instances: 1})
	f.d.reaperPrimed.Store(true)

	require.NoError(t, f.contacts.Track(f.ctx, contacts.Ringing{
		ContactID:           "lost-1",
		CampaignExecutionID: "ce-1",
		StartedAt:           f.now.Add(-time.Minute),
	}))

	res, err := f.d.ReapTick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{Released: 1}, res)
	assert.Empty(t, f.stats.events)

	n, err := f.contacts.Count(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReapTickWithoutDescribeStopsDirectly(t *testing.T) {
	f := newFixture(t, 1, membership.View{Instances: 1})
	f.d.cfg.CheckContactBeforeCompletion = false
	f.d.reaperPrimed.Store(true)

	id := f.ring(t, time.Minute)
	require.NoError(t, f.contacts.Track(f.ctx, contacts.Ringing{
		ContactID:           "lost-2",
		CampaignExecutionID: "ce-9",
		StartedAt:           f.now.Add(-2 * time.Minute),
	}))

	res, err := f.d.ReapTick(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ReapResult{Terminated: 2}, res)

	require.Len(t, f.stats.events, 2)
	assert.Equal(t, "ce-9", f.stats.events[0].key, "execution id stands in for a missing campaign id")
	assert.Equal(t, "camp-ce-1", f.stats.events[1].key)
	assert.Equal(t, []string{id}, f.sim.InState(telephony.StateEnded))
}
