package am

import (
	"github.com/teranos/dialpulse/am/geotime"
	"github.com/teranos/dialpulse/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	d := c.Dialer

	// Loop periods drive timers; zero would spin
	if d.DequeueFrequencyMS <= 0 {
		return errors.Newf("dialer.dequeue_frequency_ms must be > 0, got %d", d.DequeueFrequencyMS)
	}
	if d.RingTimeoutCheckFrequencyMS <= 0 {
		return errors.Newf("dialer.ring_timeout_check_frequency_ms must be > 0, got %d", d.RingTimeoutCheckFrequencyMS)
	}
	if d.MaxRingTimeoutHangupsPerLoop < 0 {
		return errors.Newf("dialer.max_ring_timeout_hangups_per_loop must be >= 0, got %d", d.MaxRingTimeoutHangupsPerLoop)
	}

	// Global CPS: 0 = dial nothing (valid per "zero means zero"), negative = invalid
	if d.GlobalCPS < 0 {
		return errors.Newf("dialer.global_cps must be >= 0, got %d", d.GlobalCPS)
	}
	if d.MaxRingTimeSeconds <= 0 {
		return errors.Newf("dialer.max_ring_time_seconds must be > 0, got %d", d.MaxRingTimeSeconds)
	}
	if d.GlobalMaxCPA < 0 {
		return errors.Newf("dialer.global_max_cpa must be >= 0, got %f", d.GlobalMaxCPA)
	}
	if d.PlacementPollMS < 0 {
		return errors.Newf("dialer.placement_poll_ms must be >= 0, got %d", d.PlacementPollMS)
	}
	if err := geotime.ValidateTimezone(d.UpstreamTimezone); err != nil {
		return errors.Wrap(err, "dialer.upstream_timezone")
	}

	// Telephony: a real backend needs an address
	if !c.Telephony.Simulate {
		if c.Telephony.BaseURL == "" {
			return errors.New("telephony.base_url cannot be empty when simulate is false")
		}
		if c.Telephony.TimeoutSeconds <= 0 {
			return errors.Newf("telephony.timeout_seconds must be > 0, got %d", c.Telephony.TimeoutSeconds)
		}
	}
	if c.Telephony.MaxRequestsPerSecond < 0 {
		return errors.Newf("telephony.max_requests_per_second must be >= 0, got %d", c.Telephony.MaxRequestsPerSecond)
	}

	if c.Membership.HeartbeatSeconds <= 0 {
		return errors.Newf("membership.heartbeat_seconds must be > 0, got %d", c.Membership.HeartbeatSeconds)
	}
	if c.Membership.ExpirySeconds <= c.Membership.HeartbeatSeconds {
		return errors.Newf("membership.expiry_seconds (%d) must exceed heartbeat_seconds (%d)",
			c.Membership.ExpirySeconds, c.Membership.HeartbeatSeconds)
	}

	// Monitor interval: 0 = no periodic materialization, negative = invalid
	if c.Monitor.IntervalSeconds < 0 {
		return errors.Newf("monitor.interval_seconds must be >= 0, got %d", c.Monitor.IntervalSeconds)
	}
	if c.Control.PollMS <= 0 {
		return errors.Newf("control.poll_ms must be > 0, got %d", c.Control.PollMS)
	}

	return nil
}
