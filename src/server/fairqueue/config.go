package fairqueue

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/multierr"
)

const DefaultTau = 100 * time.Millisecond

// Config sets the operation parameters of a [FairQueue].
type Config struct {
	// Tau is the time constant of the exponential decay applied to the
	// service accounted to each class.
	Tau time.Duration `json:"tau"`
	// MaxRequestCount bounds the weight executing concurrently.
	MaxRequestCount uint32 `json:"maxRequestCount"`
	// MaxBytesCount bounds the size executing concurrently.
	MaxBytesCount uint32 `json:"maxBytesCount"`
}

// DefaultConfig returns an unbounded configuration with the default tau.
func DefaultConfig() Config {
	return Config{
		Tau:             DefaultTau,
		MaxRequestCount: math.MaxUint32,
		MaxBytesCount:   math.MaxUint32,
	}
}

// NewConfig returns a configuration allowing at most maxRequests concurrent
// requests and maxBytes concurrent bytes.
func NewConfig(maxRequests, maxBytes uint32) Config {
	cfg := DefaultConfig()
	cfg.MaxRequestCount = maxRequests
	cfg.MaxBytesCount = maxBytes
	return cfg
}

// Validate reports every invalid field of the configuration.
func (c Config) Validate() error {
	var err error
	if c.Tau <= 0 {
		err = multierr.Append(err, fmt.Errorf("tau must be positive, got %s", c.Tau))
	}
	if c.MaxRequestCount == 0 {
		err = multierr.Append(err, fmt.Errorf("maxRequestCount must be positive"))
	}
	if c.MaxBytesCount == 0 {
		err = multierr.Append(err, fmt.Errorf("maxBytesCount must be positive"))
	}
	return err
}

func (c Config) maximumCapacity() Ticket {
	return NewTicket(c.MaxRequestCount, c.MaxBytesCount)
}
