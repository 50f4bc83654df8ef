package execution

import (
	"fmt"

	"github.com/teranos/dialpulse/pulse/pacing"
	"github.com/teranos/dialpulse/pulse/recurrence"
)

// ValidateCampaign returns descriptive problems with a campaign; empty means valid.
func ValidateCampaign(c *Campaign) []string {
	var problems []string
	if c.ID == "" {
		problems = append(problems, "campaign id is required")
	}
	for _, p := range pacing.Validate(c.Pacing) {
		problems = append(problems, "pacing: "+p)
	}
	return problems
}

// ValidateSchedule returns descriptive problems with a schedule; empty means valid.
func ValidateSchedule(s *Schedule) []string {
	var problems []string
	if s.ID == "" {
		problems = append(problems, "schedule id is required")
	}
	if s.CampaignID == "" {
		problems = append(problems, "campaign_id is required")
	}
	problems = append(problems, recurrence.Validate(s.Schedule)...)

	if s.Loops < 1 {
		problems = append(problems, fmt.Sprintf("loops must be at least 1, got %d", s.Loops))
	}
	if len(s.Sequences) == 0 {
		problems = append(problems, "at least one sequence is required")
	}
	for _, p := range pacing.Validate(s.Pacing) {
		problems = append(problems, "pacing: "+p)
	}

	for i, seq := range s.Sequences {
		name := seq.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		switch seq.Behavior.MachineHandling {
		case "", MachineHangup, MachineContinue:
		case MachineRoute:
			if seq.Behavior.MachineFlowID == "" {
				problems = append(problems, fmt.Sprintf("sequence %s: machine_flow_id is required with %s", name, MachineRoute))
			}
		default:
			problems = append(problems, fmt.Sprintf("sequence %s: unknown machine_handling %q", name, seq.Behavior.MachineHandling))
		}
		if seq.Pacing != nil {
			for _, p := range pacing.Validate(*seq.Pacing) {
				problems = append(problems, fmt.Sprintf("sequence %s pacing: %s", name, p))
			}
		}
	}
	return problems
}
