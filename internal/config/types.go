package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from "90s" style strings in
// YAML and environment variables. A bare integer is read as seconds, so
// SKILLLOOP_LOOP_TIMEOUT=300 means five minutes.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	var parsed time.Duration
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		parsed = time.Duration(secs) * time.Second
	} else if parsed, err = time.ParseDuration(s); err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("invalid duration %q: must not be negative", s)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
