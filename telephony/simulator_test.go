package telephony

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dialpulse/errors"
)

func TestSimulatorLifecycle(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(zaptest.NewLogger(t).Sugar())

	a, err := sim.PlaceCall(ctx, CallRequest{Destination: "+15550101"})
	require.NoError(t, err)
	b, err := sim.PlaceCall(ctx, CallRequest{Destination: "+15550102"})
	require.NoError(t, err)

	require.NoError(t, sim.Answer(a))
	call, err := sim.DescribeCall(ctx, a)
	require.NoError(t, err)
	assert.True(t, call.Live())

	require.NoError(t, sim.StopCall(ctx, b))
	assert.Equal(t, []string{b}, sim.InState(StateEnded))
	assert.NoError(t, sim.StopCall(ctx, "unknown"))

	_, err = sim.DescribeCall(ctx, "unknown")
	assert.True(t, errors.IsNotFoundError(err))

	placed := sim.Placed()
	require.Len(t, placed, 2)
	assert.Equal(t, "+15550101", placed[0].Destination)
}

func TestSimulatorReject(t *testing.T) {
	sim := NewSimulator(zaptest.NewLogger(t).Sugar())
	sim.RejectWith(func(req CallRequest) error {
		if req.Destination == "+15550000" {
			return errors.ErrServiceUnavailable
		}
		return nil
	})

	_, err := sim.PlaceCall(context.Background(), CallRequest{Destination: "+15550000"})
	assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))
	_, err = sim.PlaceCall(context.Background(), CallRequest{Destination: "+15550101"})
	assert.NoError(t, err)
	assert.Len(t, sim.Placed(), 1)
}
