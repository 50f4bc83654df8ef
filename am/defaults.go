package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default values referenced outside this package
const (
	DefaultDatabasePath     = "dialpulse.db"
	DefaultUpstreamTimezone = "America/New_York"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", DefaultDatabasePath)

	// Dialer defaults
	v.SetDefault("dialer.dequeue_frequency_ms", 1000)
	v.SetDefault("dialer.ring_timeout_check_frequency_ms", 5000)
	v.SetDefault("dialer.max_ring_timeout_hangups_per_loop", 20)
	v.SetDefault("dialer.check_contact_before_completion", true)
	v.SetDefault("dialer.global_cps", 10)
	v.SetDefault("dialer.max_ring_time_seconds", 60)
	v.SetDefault("dialer.global_max_cpa", 3.0)
	v.SetDefault("dialer.upstream_timezone", DefaultUpstreamTimezone)
	v.SetDefault("dialer.placement_poll_ms", 1)

	// Telephony defaults
	v.SetDefault("telephony.base_url", "http://localhost:8089")
	v.SetDefault("telephony.timeout_seconds", 10)
	v.SetDefault("telephony.max_requests_per_second", 50)
	v.SetDefault("telephony.simulate", true) // Dry-run until a backend is configured

	// Membership defaults
	v.SetDefault("membership.heartbeat_seconds", 5)
	v.SetDefault("membership.expiry_seconds", 15)

	v.SetDefault("monitor.interval_seconds", 10)
	v.SetDefault("control.poll_ms", 500)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("telephony.api_key", "DIALPULSE_TELEPHONY_API_KEY")
	v.BindEnv("database.path", "DIALPULSE_DATABASE_PATH")
	v.BindEnv("membership.instance_id", "DIALPULSE_INSTANCE_ID")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// DequeueFrequency returns the dequeue loop period
func (c *DialerConfig) DequeueFrequency() time.Duration {
	return time.Duration(c.DequeueFrequencyMS) * time.Millisecond
}

// RingTimeoutCheckFrequency returns the reaper period
func (c *DialerConfig) RingTimeoutCheckFrequency() time.Duration {
	return time.Duration(c.RingTimeoutCheckFrequencyMS) * time.Millisecond
}

// MaxRingTime returns how long a call may ring before the reaper terminates it
func (c *DialerConfig) MaxRingTime() time.Duration {
	return time.Duration(c.MaxRingTimeSeconds) * time.Second
}

// PlacementPoll returns the placement loop's idle poll interval (minimum 1ms)
func (c *DialerConfig) PlacementPoll() time.Duration {
	if c.PlacementPollMS <= 0 {
		return time.Millisecond
	}
	return time.Duration(c.PlacementPollMS) * time.Millisecond
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Dialer: {GlobalCPS: %d, Dequeue: %dms}, Telephony: {Simulate: %t}}",
		c.Database.Path, c.Dialer.GlobalCPS, c.Dialer.DequeueFrequencyMS, c.Telephony.Simulate)
}
