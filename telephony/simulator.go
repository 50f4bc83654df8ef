package telephony

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/dialpulse/errors"
	"github.com/teranos/dialpulse/logger"
)

// Simulator is an in-memory executor for dry runs and tests. Calls ring
// until Answer or Hangup is called, or until they are stopped.
type Simulator struct {
	mu      sync.Mutex
	calls   map[string]*simCall
	order   []string
	reject  func(CallRequest) error
	timeNow func() time.Time
	logger  *zap.SugaredLogger
}

type simCall struct {
	req  CallRequest
	call Call
}

// NewSimulator creates an empty simulator
func NewSimulator(log *zap.SugaredLogger) *Simulator {
	return &Simulator{
		calls:   make(map[string]*simCall),
		timeNow: time.Now,
		logger:  logger.AddDialSymbol(log),
	}
}

// RejectWith makes PlaceCall fail for requests where fn returns an error
func (s *Simulator) RejectWith(fn func(CallRequest) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = fn
}

// PlaceCall records a ringing call
func (s *Simulator) PlaceCall(ctx context.Context, req CallRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Destination == "" {
		return "", errors.Wrap(errors.ErrInvalidRequest, "destination is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject != nil {
		if err := s.reject(req); err != nil {
			return "", errors.Wrapf(err, "place call to %s", req.Destination)
		}
	}

	id := "sim_" + uuid.NewString()
	s.calls[id] = &simCall{req: req, call: Call{ContactID: id, State: StateRinging}}
	s.order = append(s.order, id)
	s.logger.Debugw("Simulated call placed",
		logger.FieldContactID, id,
		"destination", req.Destination,
		"flow_id", req.FlowID,
		"machine_handling", req.MachineHandling)
	return id, nil
}

// DescribeCall returns the simulated state
func (s *Simulator) DescribeCall(_ context.Context, contactID string) (*Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[contactID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "contact %s", contactID)
	}
	call := c.call
	return &call, nil
}

// StopCall ends a simulated call. Unknown contacts are ignored, as with the real backend.
func (s *Simulator) StopCall(_ context.Context, contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.calls[contactID]; ok {
		c.call.State = StateEnded
	}
	return nil
}

// Answer connects a ringing call
func (s *Simulator) Answer(contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[contactID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "contact %s", contactID)
	}
	now := s.timeNow()
	c.call.State = StateConnected
	c.call.ConnectedAt = &now
	return nil
}

// Hangup ends a call from the far side
func (s *Simulator) Hangup(contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[contactID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "contact %s", contactID)
	}
	c.call.State = StateEnded
	return nil
}

// Placed returns every request in placement order
func (s *Simulator) Placed() []CallRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CallRequest, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.calls[id].req)
	}
	return out
}

// InState returns the contact ids currently in state, sorted
func (s *Simulator) InState(state string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, c := range s.calls {
		if c.call.State == state {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
