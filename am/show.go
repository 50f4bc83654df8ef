package am

import (
	"io"

	"github.com/BurntSushi/toml"

	"github.com/teranos/dialpulse/errors"
)

// WriteTOML encodes the effective configuration as TOML.
// The telephony API key is masked.
func WriteTOML(w io.Writer, cfg *Config) error {
	out := *cfg
	if out.Telephony.APIKey != "" {
		out.Telephony.APIKey = "********"
	}
	if err := toml.NewEncoder(w).Encode(out); err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	return nil
}
