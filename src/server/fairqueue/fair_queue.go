package fairqueue

import (
	"errors"
	"fairq/src/logging"
	"fairq/src/server/datastructures"
	"fmt"
	"math"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// ErrNotDrained is returned by Close while requests are queued or executing.
var ErrNotDrained = errors.New("fair queue still holds resources")

// FairQueue lets multiple producers queue requests that are then admitted
// proportionally to the shares of their classes.
//
// Each class keeps its own FIFO of requests. A class may go over its share as
// long as the other classes have nothing queued; once they do, they are served
// first until balance is restored. Past service decays exponentially with time
// constant Config.Tau, so a class is never penalized for long for having used
// idle capacity.
//
// FairQueue is not thread-safe. It is meant to be owned by a single goroutine
// which queues requests, polls DispatchRequests and reports completions.
type FairQueue struct {
	config          Config
	maximumCapacity Ticket

	resourcesExecuting Ticket
	resourcesQueued    Ticket
	requestsExecuting  uint32
	requestsQueued     uint32

	clock clock.PassiveClock
	base  time.Time

	handles    datastructures.PriorityQueue[float64, *PriorityClass]
	allClasses map[*PriorityClass]struct{}
	nextID     uint64
	closed     bool

	log      logr.Logger
	observer Observer
}

// New creates a [FairQueue]. It panics if cfg is invalid.
func New(cfg Config, opts ...Option) *FairQueue {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("fairqueue: invalid config: %v", err))
	}

	o := &Options{
		Clock:  clock.RealClock{},
		Logger: logr.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}

	return &FairQueue{
		config:          cfg,
		maximumCapacity: cfg.maximumCapacity(),
		clock:           o.Clock,
		base:            o.Clock.Now(),
		handles:         datastructures.NewPriorityQueue[float64, *PriorityClass](0),
		allClasses:      make(map[*PriorityClass]struct{}),
		log:             o.Logger,
		observer:        o.Observer,
	}
}

// RegisterPriorityClass registers a new class with the given shares. Shares
// below 1 are raised to 1.
func (fq *FairQueue) RegisterPriorityClass(shares uint32) *PriorityClass {
	if fq.closed {
		panic("fairqueue: register on a closed queue")
	}

	pc := newPriorityClass(fq, fq.nextID, shares)
	fq.nextID++
	fq.allClasses[pc] = struct{}{}

	fq.log.V(logging.VERBOSE).Info("Priority class registered", "class", pc.id, "shares", pc.shares)
	return pc
}

// UnregisterPriorityClass removes a class from the queue. It panics if the
// class still has pending requests, as they would otherwise be lost.
func (fq *FairQueue) UnregisterPriorityClass(pc *PriorityClass) {
	fq.mustOwn(pc)
	if !pc.queue.IsEmpty() {
		panic(fmt.Sprintf("fairqueue: unregister class %d with %d pending requests",
			pc.id, pc.queue.Len()))
	}

	delete(fq.allClasses, pc)
	fq.log.V(logging.VERBOSE).Info("Priority class unregistered", "class", pc.id)
}

// Waiters returns how many requests are queued for all classes.
//
// Deprecated: track resources with ResourcesCurrentlyWaiting instead.
func (fq *FairQueue) Waiters() int {
	return int(fq.requestsQueued)
}

// RequestsCurrentlyExecuting returns how many requests are executing.
//
// Deprecated: track resources with ResourcesCurrentlyExecuting instead.
func (fq *FairQueue) RequestsCurrentlyExecuting() int {
	return int(fq.requestsExecuting)
}

// ResourcesCurrentlyWaiting returns the resources queued for all classes.
func (fq *FairQueue) ResourcesCurrentlyWaiting() Ticket {
	return fq.resourcesQueued
}

// ResourcesCurrentlyExecuting returns the resources admitted and not yet
// reported finished.
func (fq *FairQueue) ResourcesCurrentlyExecuting() Ticket {
	return fq.resourcesExecuting
}

// Queue appends fn to the requests of pc, with cost desc. fn is never invoked
// from Queue; it runs later from DispatchRequests once admitted.
//
// fn should not panic. If it does, the panic is logged and the request is
// dropped without retry. Either way the caller must call
// NotifyRequestFinished once the admitted work completes.
func (fq *FairQueue) Queue(pc *PriorityClass, desc Ticket, fn Continuation) {
	fq.mustOwn(pc)
	if fq.closed {
		panic("fairqueue: queue on a closed queue")
	}
	if fn == nil {
		panic("fairqueue: nil continuation")
	}

	fq.pushPriorityClass(pc)
	fq.resourcesQueued = fq.resourcesQueued.Add(desc)
	pc.queue.Enqueue(request{fn: fn, desc: desc})
	fq.requestsQueued++

	if fq.observer != nil {
		fq.observer.OnQueue(pc, desc)
	}
}

// NotifyRequestFinished reports that one request of cost desc finished.
func (fq *FairQueue) NotifyRequestFinished(desc Ticket) {
	fq.NotifyRequestsFinished(desc, 1)
}

// NotifyRequestsFinished reports that n requests of total cost desc finished,
// successfully or not. Each admitted request must be reported exactly once.
func (fq *FairQueue) NotifyRequestsFinished(desc Ticket, n uint32) {
	fq.resourcesExecuting = fq.resourcesExecuting.Sub(desc)
	fq.requestsExecuting -= n

	if fq.observer != nil {
		fq.observer.OnFinish(desc, n)
	}
}

// DispatchRequests admits queued requests while there is capacity left,
// always serving the class with the least accumulated service first. Admitted
// continuations are invoked synchronously.
func (fq *FairQueue) DispatchRequests() {
	if now := fq.clock.Now(); now.Sub(fq.base) >= fq.config.Tau {
		fq.normalizeStats(now)
	}

	for fq.canDispatch() {
		pc := fq.popPriorityClass()
		req, _ := pc.queue.Dequeue()

		fq.resourcesExecuting = fq.resourcesExecuting.Add(req.desc)
		fq.resourcesQueued = fq.resourcesQueued.Sub(req.desc)
		fq.requestsExecuting++
		fq.requestsQueued--

		pc.accumulated = fq.nextAccumulated(pc, req.desc)

		if !pc.queue.IsEmpty() {
			fq.pushPriorityClass(pc)
		}

		if fq.observer != nil {
			fq.observer.OnDispatch(pc, req.desc)
		}

		fq.invoke(pc, req)
	}
}

// Close checks the queue is drained and rejects further registrations and
// requests. It returns ErrNotDrained, leaving the queue usable, while
// requests are queued or executing.
func (fq *FairQueue) Close() error {
	if fq.requestsQueued != 0 || fq.requestsExecuting != 0 ||
		fq.resourcesQueued.NonZero() || fq.resourcesExecuting.NonZero() {
		return fmt.Errorf("%w: %d requests %s queued, %d requests %s executing",
			ErrNotDrained, fq.requestsQueued, fq.resourcesQueued,
			fq.requestsExecuting, fq.resourcesExecuting)
	}

	fq.closed = true
	return nil
}

func (fq *FairQueue) mustOwn(pc *PriorityClass) {
	if pc == nil || pc.owner != fq {
		panic("fairqueue: priority class belongs to another queue")
	}
	if _, ok := fq.allClasses[pc]; !ok {
		panic(fmt.Sprintf("fairqueue: priority class %d is not registered", pc.id))
	}
}

func (fq *FairQueue) pushPriorityClass(pc *PriorityClass) {
	if !pc.queued {
		fq.handles.Enqueue(pc, pc.accumulated)
		pc.queued = true
	}
}

func (fq *FairQueue) popPriorityClass() *PriorityClass {
	pc, ok := fq.handles.Dequeue()
	if !ok {
		panic("fairqueue: pop from an empty dispatch queue")
	}
	pc.queued = false
	return pc
}

// canDispatch reports whether the oldest request of the least served class
// fits in the remaining capacity. A request larger than the whole capacity
// is let through when nothing else executes.
func (fq *FairQueue) canDispatch() bool {
	pc, ok := fq.handles.Peek()
	if !ok {
		return false
	}
	req, ok := pc.queue.Front()
	if !ok {
		panic(fmt.Sprintf("fairqueue: class %d queued without requests", pc.id))
	}

	if fq.requestsExecuting == 0 {
		return true
	}
	return fq.requestsExecuting < fq.config.MaxRequestCount &&
		fq.resourcesExecuting.fits(req.desc, fq.maximumCapacity)
}

// nextAccumulated returns the accumulated service of pc after admitting a
// request of cost desc. The cost grows exponentially with the time elapsed
// since the base, which is the same as decaying older service.
func (fq *FairQueue) nextAccumulated(pc *PriorityClass, desc Ticket) float64 {
	reqCost := desc.Normalize(fq.maximumCapacity) / float64(pc.shares)
	if reqCost == 0 {
		return pc.accumulated
	}

	now := fq.clock.Now()
	next := pc.accumulated + fq.decayFactor(now)*reqCost
	if math.IsInf(next, 1) {
		fq.normalizeStats(now)
		next = pc.accumulated + fq.decayFactor(now)*reqCost
	}
	return next
}

func (fq *FairQueue) decayFactor(now time.Time) float64 {
	return math.Exp(float64(now.Sub(fq.base)) / float64(fq.config.Tau))
}

// normalizeStats rescales every accumulated value to the time base now.
// Scaling is uniform, so the relative order of the classes is unchanged.
func (fq *FairQueue) normalizeStats(now time.Time) {
	factor := 1 / fq.decayFactor(now)
	for pc := range fq.allClasses {
		pc.accumulated *= factor
	}
	fq.handles.Reprioritize(func(pc *PriorityClass) float64 {
		return pc.accumulated
	})
	fq.base = now

	fq.log.V(logging.TRACE).Info("Accumulated service decayed", "factor", factor)
}

func (fq *FairQueue) invoke(pc *PriorityClass, req request) {
	defer func() {
		if r := recover(); r != nil {
			fq.log.Error(fmt.Errorf("%v", r), "Request dropped, continuation panicked",
				"class", pc.id, "ticket", req.desc.String())
		}
	}()
	req.fn()
}
