package config

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Jobs        int           `json:"jobs"`                   // Concurrent actions; negative means CPU count + 1
	KeepGoing   bool          `json:"keep_going"`             // Cancel only dependents of a failure
	Verbosity   int           `json:"verbosity"`              // 0=warn, 1=info, 2=debug, 3+=trace
	HistoryPath string        `json:"history_path,omitempty"` // SQLite archive; empty disables history
	Retry       RetryConfig   `json:"retry"`                  // Defaults for actions that opt into retrying
	Breaker     BreakerConfig `json:"breaker"`                // Circuit breakers of subprocess actions
}

// RetryConfig mirrors the exponential backoff settings of retrying actions.
// A plan action opts in by setting its own attempt count.
type RetryConfig struct {
	InitialInterval     Duration `json:"initial_interval"`
	MaxInterval         Duration `json:"max_interval"`
	MaxElapsedTime      Duration `json:"max_elapsed_time"`
	Multiplier          float64  `json:"multiplier"`
	RandomizationFactor float64  `json:"randomization_factor"`
}

// BreakerConfig configures the per-program circuit breakers.
type BreakerConfig struct {
	Enabled  bool     `json:"enabled"`
	Trip     uint32   `json:"trip"`     // Consecutive failures that open a breaker
	Cooldown Duration `json:"cooldown"` // Time open before a test call is let through
}

// Duration is a time.Duration written as a Go duration string ("1.5s") in
// JSON and YAML.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Plain numbers are nanoseconds
		var n int64
		if nerr := json.Unmarshal(data, &n); nerr != nil {
			return fmt.Errorf("duration must be a string like \"1s\": %w", err)
		}
		*d = Duration(n)
		return nil
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
