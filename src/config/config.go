// Package config loads the server and client configuration from a YAML file
// and command-line flags.
package config

import (
	"encoding/json"
	"errors"
	"fairq/src/model"
	"fairq/src/server/fairqueue"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"sigs.k8s.io/yaml"
)

var ErrNoClasses = errors.New("no priority classes configured")

const (
	DefaultListen           = "localhost:8000"
	DefaultFairnessInterval = time.Second
)

// Duration is a time.Duration that reads and writes as a string such as
// "100ms".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Class struct {
	Name   string `json:"name"`
	Shares uint32 `json:"shares"`
}

type Config struct {
	Listen      string   `json:"listen"`
	Tau         Duration `json:"tau"`
	MaxRequests uint32   `json:"maxRequests"`
	MaxBytes    uint32   `json:"maxBytes"`
	Classes     []Class  `json:"classes"`

	// Empty disables the Prometheus endpoint.
	MetricsAddr string `json:"metricsAddr,omitempty"`
	// Empty disables the fairness CSV writer.
	FairnessCSV      string   `json:"fairnessCSV,omitempty"`
	FairnessInterval Duration `json:"fairnessInterval,omitempty"`
}

// Default returns an unbounded queue serving the high and low classes.
func Default() *Config {
	fq := fairqueue.DefaultConfig()
	return &Config{
		Listen:      DefaultListen,
		Tau:         Duration(fq.Tau),
		MaxRequests: fq.MaxRequestCount,
		MaxBytes:    fq.MaxBytesCount,
		Classes: []Class{
			{Name: model.HIGH_PRIORITY, Shares: model.HIGH_PRIORITY_SHARES},
			{Name: model.LOW_PRIORITY, Shares: model.LOW_PRIORITY_SHARES},
		},
		FairnessInterval: Duration(DefaultFairnessInterval),
	}
}

// Load reads the YAML file at path on top of Default. Unknown fields are
// rejected.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// FairQueue returns the fair queue part of the configuration.
func (c *Config) FairQueue() fairqueue.Config {
	return fairqueue.Config{
		Tau:             time.Duration(c.Tau),
		MaxRequestCount: c.MaxRequests,
		MaxBytesCount:   c.MaxBytes,
	}
}

// Shares maps every class name to its configured shares.
func (c *Config) Shares() map[string]uint32 {
	shares := make(map[string]uint32, len(c.Classes))
	for _, class := range c.Classes {
		shares[class.Name] = class.Shares
	}
	return shares
}

// Validate reports every problem of the configuration at once.
func (c *Config) Validate() error {
	var err error

	if c.Listen == "" {
		err = multierr.Append(err, errors.New("listen address must not be empty"))
	}
	if len(c.Classes) == 0 {
		err = multierr.Append(err, ErrNoClasses)
	}

	seen := make(map[string]bool, len(c.Classes))
	for i, class := range c.Classes {
		switch {
		case class.Name == "":
			err = multierr.Append(err, fmt.Errorf("class %d has no name", i))
		case seen[class.Name]:
			err = multierr.Append(err, fmt.Errorf("class %q is defined more than once", class.Name))
		}
		seen[class.Name] = true

		if class.Shares == 0 {
			err = multierr.Append(err, fmt.Errorf("class %q must have shares > 0", class.Name))
		}
	}

	if c.FairnessCSV != "" && c.FairnessInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("fairness interval must be > 0, got %s", time.Duration(c.FairnessInterval)))
	}

	return multierr.Append(err, c.FairQueue().Validate())
}
