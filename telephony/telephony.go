// Package telephony talks to the call execution backend. The orchestrator
// only ever places a call, asks about it, or stops it; everything that happens
// on the line belongs to the backend.
package telephony

import (
	"context"
	"time"
)

// Call states reported by the backend
const (
	StateRinging   = "ringing"
	StateConnected = "connected"
	StateEnded     = "ended"
)

// CallRequest asks the backend to dial one destination
type CallRequest struct {
	Destination string            `json:"destination"`
	Source      string            `json:"source"`
	FlowID      string            `json:"flow_id,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`

	// Answering-machine detection: HANGUP, CONTINUE, or ROUTE to MachineFlowID
	MachineHandling string `json:"machine_handling,omitempty"`
	MachineFlowID   string `json:"machine_flow_id,omitempty"`
}

// Call is the backend's view of a placed call
type Call struct {
	ContactID   string     `json:"contact_id"`
	State       string     `json:"state"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// Live reports whether a person or machine has picked up
func (c *Call) Live() bool {
	return c.State == StateConnected || c.ConnectedAt != nil
}

// Executor is what the dispatcher needs from a backend
type Executor interface {
	PlaceCall(ctx context.Context, req CallRequest) (contactID string, err error)
	DescribeCall(ctx context.Context, contactID string) (*Call, error)
	StopCall(ctx context.Context, contactID string) error
}
