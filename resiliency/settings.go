package resiliency

import (
	"fmt"
	"time"
)

// Settings is the configuration form of a Policy. Durations use
// time.ParseDuration syntax ("500ms", "2s", "1h").
type Settings struct {
	MaximumRetries           int    `toml:"maximum_retries" yaml:"maximum_retries"`
	InitialPeriod            string `toml:"initial_period" yaml:"initial_period"`
	Period                   string `toml:"period" yaml:"period"`
	Timeout                  string `toml:"timeout" yaml:"timeout"`
	MaximumExponentialPeriod string `toml:"maximum_exponential_period" yaml:"maximum_exponential_period"`
	Exponential              bool   `toml:"exponential" yaml:"exponential"`
}

// Policy parses the settings into a validated Policy. Empty durations are zero.
func (s Settings) Policy() (Policy, error) {
	initial, err := parseDuration("initial_period", s.InitialPeriod)
	if err != nil {
		return Policy{}, err
	}
	period, err := parseDuration("period", s.Period)
	if err != nil {
		return Policy{}, err
	}
	timeout, err := parseDuration("timeout", s.Timeout)
	if err != nil {
		return Policy{}, err
	}
	maxPeriod, err := parseDuration("maximum_exponential_period", s.MaximumExponentialPeriod)
	if err != nil {
		return Policy{}, err
	}
	return New(s.MaximumRetries, initial, period, timeout, maxPeriod, s.Exponential)
}

// SettingsOf converts a policy back to its configuration form.
func SettingsOf(p Policy) Settings {
	return Settings{
		MaximumRetries:           p.MaximumRetries,
		InitialPeriod:            p.InitialPeriod.String(),
		Period:                   p.Period.String(),
		Timeout:                  p.Timeout.String(),
		MaximumExponentialPeriod: p.MaximumExponentialPeriod.String(),
		Exponential:              p.Exponential,
	}
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
