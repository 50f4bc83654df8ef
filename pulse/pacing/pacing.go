// Package pacing merges partial dial-pacing configuration across precedence tiers.
//
// Tiers, lowest to highest: global default, campaign, schedule override, runtime
// (sequence or live control) override. Each field is overridden individually; a nil
// field in a higher tier never clears a value set lower down.
package pacing

import (
	"github.com/teranos/dialpulse/internal/util"
)

// Initial-phase modes
const (
	InitialModeFixed  = "FIXED"
	InitialModeRamped = "RAMPED"
)

// ABA (abandon-based adjustment) calculation modes
const (
	ABACalculationCalls    = "CALLS"
	ABACalculationAnswered = "ANSWERED"
)

// Pacing is a partial or complete pacing snapshot. Nil means "not set at this tier".
type Pacing struct {
	MaxCPA             *float64 `json:"max_cpa,omitempty" yaml:"max_cpa,omitempty"`
	InitialCPA         *float64 `json:"initial_cpa,omitempty" yaml:"initial_cpa,omitempty"`
	InitialDuration    *int     `json:"initial_duration,omitempty" yaml:"initial_duration,omitempty"` // seconds
	InitialMode        *string  `json:"initial_mode,omitempty" yaml:"initial_mode,omitempty"`
	ABAIncrement       *float64 `json:"aba_increment,omitempty" yaml:"aba_increment,omitempty"`
	ABATargetRate      *float64 `json:"aba_target_rate,omitempty" yaml:"aba_target_rate,omitempty"`
	ABACalculation     *string  `json:"aba_calculation,omitempty" yaml:"aba_calculation,omitempty"`
	MaxConcurrentCalls *int     `json:"max_concurrent_calls,omitempty" yaml:"max_concurrent_calls,omitempty"`
}

// Merge applies tiers in order; later tiers override earlier ones field by field.
func Merge(tiers ...Pacing) Pacing {
	var out Pacing
	for _, t := range tiers {
		out.MaxCPA = util.Coalesce(out.MaxCPA, t.MaxCPA)
		out.InitialCPA = util.Coalesce(out.InitialCPA, t.InitialCPA)
		out.InitialDuration = util.Coalesce(out.InitialDuration, t.InitialDuration)
		out.InitialMode = util.Coalesce(out.InitialMode, t.InitialMode)
		out.ABAIncrement = util.Coalesce(out.ABAIncrement, t.ABAIncrement)
		out.ABATargetRate = util.Coalesce(out.ABATargetRate, t.ABATargetRate)
		out.ABACalculation = util.Coalesce(out.ABACalculation, t.ABACalculation)
		out.MaxConcurrentCalls = util.Coalesce(out.MaxConcurrentCalls, t.MaxConcurrentCalls)
	}
	return out.clone()
}

// Generate builds the effective snapshot for an execution:
// {MaxCPA: globalMaxCPA} < campaign < schedule < override.
func Generate(globalMaxCPA float64, campaign, schedule, override Pacing) Pacing {
	return Merge(Pacing{MaxCPA: util.Ptr(globalMaxCPA)}, campaign, schedule, override)
}

// IsZero reports whether no field is set
func (p Pacing) IsZero() bool {
	return p == Pacing{}
}

// clone copies every pointer so the result shares no memory with its inputs
func (p Pacing) clone() Pacing {
	return Pacing{
		MaxCPA:             clonePtr(p.MaxCPA),
		InitialCPA:         clonePtr(p.InitialCPA),
		InitialDuration:    clonePtr(p.InitialDuration),
		InitialMode:        clonePtr(p.InitialMode),
		ABAIncrement:       clonePtr(p.ABAIncrement),
		ABATargetRate:      clonePtr(p.ABATargetRate),
		ABACalculation:     clonePtr(p.ABACalculation),
		MaxConcurrentCalls: clonePtr(p.MaxConcurrentCalls),
	}
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return util.Ptr(*p)
}

// Validate returns descriptive problems with a partial pacing document; empty means valid.
func Validate(p Pacing) []string {
	var problems []string
	nonNegative := func(name string, v *float64) {
		if v != nil && *v < 0 {
			problems = append(problems, name+" must be >= 0")
		}
	}
	nonNegative("max_cpa", p.MaxCPA)
	nonNegative("initial_cpa", p.InitialCPA)
	nonNegative("aba_increment", p.ABAIncrement)
	if p.ABATargetRate != nil && (*p.ABATargetRate < 0 || *p.ABATargetRate > 100) {
		problems = append(problems, "aba_target_rate must be within 0..100")
	}
	if p.InitialDuration != nil && *p.InitialDuration < 0 {
		problems = append(problems, "initial_duration must be >= 0")
	}
	if p.MaxConcurrentCalls != nil && *p.MaxConcurrentCalls < 0 {
		problems = append(problems, "max_concurrent_calls must be >= 0")
	}
	if p.InitialMode != nil && *p.InitialMode != InitialModeFixed && *p.InitialMode != InitialModeRamped {
		problems = append(problems, "initial_mode must be FIXED or RAMPED")
	}
	if p.ABACalculation != nil && *p.ABACalculation != ABACalculationCalls && *p.ABACalculation != ABACalculationAnswered {
		problems = append(problems, "aba_calculation must be CALLS or ANSWERED")
	}
	return problems
}
