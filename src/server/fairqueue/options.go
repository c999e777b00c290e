package fairqueue

import (
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// Observer is notified of the resources passing through a [FairQueue]. It is
// called synchronously from the queue's owner and must not call back into the
// queue.
type Observer interface {
	OnQueue(pc *PriorityClass, desc Ticket)
	OnDispatch(pc *PriorityClass, desc Ticket)
	OnFinish(desc Ticket, n uint32)
}

// Options holds optional collaborators of a [FairQueue].
type Options struct {
	Clock    clock.PassiveClock
	Logger   logr.Logger
	Observer Observer
}

// Option is a function that configures [Options].
type Option func(*Options)

// WithClock sets the clock used to decay accumulated service.
func WithClock(c clock.PassiveClock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

// WithLogger sets the logger of the [FairQueue].
func WithLogger(log logr.Logger) Option {
	return func(o *Options) {
		o.Logger = log
	}
}

// WithObserver sets the observer of the [FairQueue].
func WithObserver(obs Observer) Option {
	return func(o *Options) {
		o.Observer = obs
	}
}
