package dispatch

import (
	"sort"
	"sync"
)

// PendingKey identifies one dequeued record on its way to the telephony backend
type PendingKey struct {
	CampaignExecutionID string
	RecordID            string
	PhoneNumber         string
}

// PendingSet counts records that were dequeued but that the backend's own
// in-flight count does not reflect yet. Each campaign execution's set exists
// only while it holds at least one entry.
type PendingSet struct {
	mu     sync.Mutex
	byExec map[string]map[PendingKey]int
	total  int
}

// NewPendingSet creates an empty set
func NewPendingSet() *PendingSet {
	return &PendingSet{byExec: make(map[string]map[PendingKey]int)}
}

// Add records one more entry for k
func (p *PendingSet) Add(k PendingKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.byExec[k.CampaignExecutionID]
	if !ok {
		set = make(map[PendingKey]int)
		p.byExec[k.CampaignExecutionID] = set
	}
	set[k]++
	p.total++
}

// Remove drops one entry for k. Removing an absent key is a no-op.
func (p *PendingSet) Remove(k PendingKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.byExec[k.CampaignExecutionID]
	if !ok || set[k] == 0 {
		return
	}
	set[k]--
	p.total--
	if set[k] == 0 {
		delete(set, k)
	}
	if len(set) == 0 {
		delete(p.byExec, k.CampaignExecutionID)
	}
}

// Count returns the entries held for a campaign execution
func (p *PendingSet) Count(ceID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.byExec[ceID] {
		n += c
	}
	return n
}

// Has reports whether a campaign execution has a set at all
func (p *PendingSet) Has(ceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byExec[ceID]
	return ok
}

// Len returns the total entries across executions
func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// CampaignExecutions returns the ids that currently hold entries, sorted
func (p *PendingSet) CampaignExecutions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.byExec))
	for id := range p.byExec {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
