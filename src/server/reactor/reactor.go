// Package reactor owns a fair queue on a single goroutine. Other goroutines
// interact with the queue by posting closures that the reactor runs between
// dispatch passes.
package reactor

import (
	"context"
	"fairq/src/logging"
	"fairq/src/server/datastructures"
	"fairq/src/server/fairqueue"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
)

// Work is the body of an admitted request. It runs on its own goroutine and
// must call done once finished, successfully or not.
type Work func(done func())

type Reactor struct {
	fq  *fairqueue.FairQueue
	log logr.Logger

	mutex     *sync.Mutex
	cond      *sync.Cond
	inbox     datastructures.CircularQueue[func(*fairqueue.FairQueue)]
	isStopped bool
	isClosed  bool // Run returned, nothing drains the inbox

	inFlight sync.WaitGroup
}

func New(fq *fairqueue.FairQueue, log logr.Logger) *Reactor {
	mutex := &sync.Mutex{}
	cond := sync.NewCond(mutex)

	return &Reactor{
		fq:  fq,
		log: log,

		mutex: mutex,
		cond:  cond,
		inbox: datastructures.NewCircularQueue[func(*fairqueue.FairQueue)](64),
	}
}

// Post runs fn on the reactor goroutine. It is safe to call from any
// goroutine, including from fn itself. It returns false, without running fn,
// once Run has returned.
func (r *Reactor) Post(fn func(fq *fairqueue.FairQueue)) bool {
	r.mutex.Lock()
	if r.isClosed {
		r.mutex.Unlock()
		return false
	}
	r.inbox.Enqueue(fn)
	r.mutex.Unlock()
	r.cond.Broadcast()
	return true
}

// Submit queues work in class pc with cost desc. Once admitted, work starts
// on a new goroutine and its done callback releases desc. It returns false,
// and work never runs, if the reactor is stopping or stopped.
func (r *Reactor) Submit(pc *fairqueue.PriorityClass, desc fairqueue.Ticket, work Work) bool {
	r.mutex.Lock()
	if r.isStopped || r.isClosed {
		r.mutex.Unlock()
		return false
	}
	r.inbox.Enqueue(func(fq *fairqueue.FairQueue) {
		fq.Queue(pc, desc, func() {
			r.start(pc, desc, work)
		})
	})
	r.mutex.Unlock()
	r.cond.Broadcast()
	return true
}

func (r *Reactor) start(pc *fairqueue.PriorityClass, desc fairqueue.Ticket, work Work) {
	var once sync.Once
	done := func() {
		once.Do(func() {
			r.Post(func(fq *fairqueue.FairQueue) {
				fq.NotifyRequestFinished(desc)
			})
		})
	}

	r.inFlight.Add(1)
	go func() {
		defer r.inFlight.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error(fmt.Errorf("%v", rec), "Work panicked", "class", pc.ID())
				done()
			}
		}()

		work(done)
	}()
}

// Stop makes Run return.
func (r *Reactor) Stop() {
	r.mutex.Lock()

	r.isStopped = true

	r.mutex.Unlock()
	r.cond.Broadcast()
}

// Run polls the fair queue until ctx is done or Stop is called. Before
// returning it waits for the admitted work and closes the queue, returning
// the error of fairqueue.FairQueue.Close if requests were left behind.
func (r *Reactor) Run(ctx context.Context) error {
	exited := make(chan struct{})
	defer close(exited)
	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-exited:
		}
	}()

	r.log.V(logging.VERBOSE).Info("Reactor started")

	r.mutex.Lock()

	for !r.isStopped {
		if r.inbox.IsEmpty() {
			r.cond.Wait()
			continue
		}

		batch := r.drainLocked()

		// Execute posted closures outside mutex
		r.mutex.Unlock()
		for _, fn := range batch {
			fn(r.fq)
		}
		r.fq.DispatchRequests()
		r.mutex.Lock()
	}

	r.mutex.Unlock()

	r.inFlight.Wait()

	r.mutex.Lock()
	batch := r.drainLocked()
	r.isClosed = true
	r.mutex.Unlock()
	for _, fn := range batch {
		fn(r.fq)
	}

	if err := r.fq.Close(); err != nil {
		r.log.Info("Reactor stopped with requests left", "reason", err.Error())
		return err
	}

	r.log.V(logging.VERBOSE).Info("Reactor stopped")
	return nil
}

func (r *Reactor) drainLocked() []func(*fairqueue.FairQueue) {
	batch := make([]func(*fairqueue.FairQueue), 0, r.inbox.Len())
	for {
		fn, ok := r.inbox.Dequeue()
		if !ok {
			return batch
		}
		batch = append(batch, fn)
	}
}
