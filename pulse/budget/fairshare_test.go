package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/dialpulse/errors"
)

func TestFairShareSumsToGlobal(t *testing.T) {
	for global := 0; global <= 40; global++ {
		for instances := 1; instances <= 9; instances++ {
			base := global / instances
			sum, extra := 0, 0
			for position := 0; position < instances; position++ {
				share := FairShare(global, instances, position)
				sum += share
				switch share {
				case base + 1:
					extra++
				case base:
				default:
					t.Fatalf("FairShare(%d,%d,%d) = %d, want %d or %d", global, instances, position, share, base, base+1)
				}
			}
			assert.Equal(t, global, sum, "G=%d N=%d", global, instances)
			assert.Equal(t, global%instances, extra, "G=%d N=%d", global, instances)
		}
	}
}

func TestFairShare(t *testing.T) {
	tests := []struct {
		name      string
		global    int
		instances int
		position  int
		want      int
	}{
		{"lone instance takes everything", 10, 1, 0, 10},
		{"remainder goes to the lowest positions", 10, 3, 0, 4},
		{"position past the remainder", 10, 3, 2, 3},
		{"more instances than budget", 2, 5, 1, 1},
		{"starved instance", 2, 5, 4, 0},
		{"zero budget", 0, 4, 0, 0},
		{"empty membership is a lone instance", 7, 0, 0, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FairShare(tt.global, tt.instances, tt.position))
		})
	}
}

func TestCPS(t *testing.T) {
	cps, err := NewCPS(10)
	require.NoError(t, err)
	assert.Equal(t, 10, cps.Global())
	assert.Equal(t, 4, cps.Local(3, 1))

	require.NoError(t, cps.Set(0))
	assert.Equal(t, 0, cps.Local(1, 0))

	err = cps.Set(-1)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	assert.Equal(t, 0, cps.Global(), "rejected update leaves the budget unchanged")

	_, err = NewCPS(-5)
	assert.Error(t, err)
}
