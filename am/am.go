package am

// Config represents the core dialpulse configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database" toml:"database"`
	Dialer     DialerConfig     `mapstructure:"dialer" toml:"dialer"`
	Telephony  TelephonyConfig  `mapstructure:"telephony" toml:"telephony"`
	Membership MembershipConfig `mapstructure:"membership" toml:"membership"`
	Monitor    MonitorConfig    `mapstructure:"monitor" toml:"monitor"`
	Control    ControlConfig    `mapstructure:"control" toml:"control"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// DialerConfig configures the dispatch loops and the global rate budget.
type DialerConfig struct {
	DequeueFrequencyMS           int  `mapstructure:"dequeue_frequency_ms" toml:"dequeue_frequency_ms"`                       // Dequeue loop period
	RingTimeoutCheckFrequencyMS  int  `mapstructure:"ring_timeout_check_frequency_ms" toml:"ring_timeout_check_frequency_ms"` // Reaper period
	MaxRingTimeoutHangupsPerLoop int  `mapstructure:"max_ring_timeout_hangups_per_loop" toml:"max_ring_timeout_hangups_per_loop"`
	CheckContactBeforeCompletion bool `mapstructure:"check_contact_before_completion" toml:"check_contact_before_completion"` // Describe before stop
	GlobalCPS                    int  `mapstructure:"global_cps" toml:"global_cps"`                                           // Shared across all instances (0 = dial nothing)
	MaxRingTimeSeconds           int  `mapstructure:"max_ring_time_seconds" toml:"max_ring_time_seconds"`

	GlobalMaxCPA     float64 `mapstructure:"global_max_cpa" toml:"global_max_cpa"`       // Lowest pacing tier
	UpstreamTimezone string  `mapstructure:"upstream_timezone" toml:"upstream_timezone"` // Zone of record deadlines
	PlacementPollMS  int     `mapstructure:"placement_poll_ms" toml:"placement_poll_ms"` // Placement loop poll when the buffer is empty
}

// TelephonyConfig configures the telephony executor client
type TelephonyConfig struct {
	BaseURL              string `mapstructure:"base_url" toml:"base_url"`
	APIKey               string `mapstructure:"api_key" toml:"api_key"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	SourcePhoneNumber    string `mapstructure:"source_phone_number" toml:"source_phone_number"`
	MaxRequestsPerSecond int    `mapstructure:"max_requests_per_second" toml:"max_requests_per_second"` // 0 = unthrottled
	Simulate             bool   `mapstructure:"simulate" toml:"simulate"`                               // In-memory executor, no network
}

// MembershipConfig configures instance liveness heartbeats
type MembershipConfig struct {
	InstanceID       string `mapstructure:"instance_id" toml:"instance_id"` // Empty = random per process
	HeartbeatSeconds int    `mapstructure:"heartbeat_seconds" toml:"heartbeat_seconds"`
	ExpirySeconds    int    `mapstructure:"expiry_seconds" toml:"expiry_seconds"`
}

// MonitorConfig configures the occurrence monitor
type MonitorConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds" toml:"interval_seconds"`
}

// ControlConfig configures the control-signal subscriber
type ControlConfig struct {
	PollMS int `mapstructure:"poll_ms" toml:"poll_ms"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
