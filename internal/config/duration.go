package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration reads a Go duration string from the config surface.
// Empty and zero values fall back to def; negative or unparsable values
// are an error naming the offending key so the log line points straight
// at the config file.
func ParseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def, fmt.Errorf("config: %s: bad duration %q: %w", key, raw, err)
	}
	if d < 0 {
		return def, fmt.Errorf("config: %s: negative duration %q", key, raw)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
