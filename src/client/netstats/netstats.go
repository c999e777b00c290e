// Package netstats measures the latency and throughput of requests. It only
// records when each request left and when its response arrived, keyed by
// request id.
package netstats

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"
)

// StatEntry holds the measurements of ONE request.
type StatEntry struct {
	SentAt time.Time
	RecvAt time.Time
	Bytes  int
	Delay  time.Duration // RecvAt - SentAt
	TP     float64       // bytes per second
}

// StatsCollector aggregates StatEntry and keeps the throughput of the last
// "window" requests to compute an average.
type StatsCollector struct {
	clock clock.PassiveClock

	mu      sync.Mutex
	pending map[uuid.UUID]*StatEntry // requests waiting for a response
	window  []float64                // recent throughputs
	idx     int                      // insertion index, grows forever
}

// New creates a collector averaging over window (>=1) measurements.
func New(window int) *StatsCollector {
	return NewWithClock(window, clock.RealClock{})
}

func NewWithClock(window int, clk clock.PassiveClock) *StatsCollector {
	if window < 1 {
		window = 1
	}
	return &StatsCollector{
		clock:   clk,
		pending: make(map[uuid.UUID]*StatEntry),
		window:  make([]float64, window),
	}
}

// RecordSend must be called as soon as request id is sent.
func (sc *StatsCollector) RecordSend(id uuid.UUID) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.pending[id] = &StatEntry{SentAt: sc.clock.Now()}
}

// RecordRecv must be called when the response of id arrives with the given
// number of bytes. Unknown ids are ignored and return zeroes.
func (sc *StatsCollector) RecordRecv(id uuid.UUID, bytes int) (delay time.Duration, tp float64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	entry, ok := sc.pending[id]
	if !ok {
		return 0, 0
	}

	entry.RecvAt = sc.clock.Now()
	entry.Bytes = bytes
	entry.Delay = entry.RecvAt.Sub(entry.SentAt)
	if entry.Delay > 0 {
		entry.TP = float64(bytes) / entry.Delay.Seconds()
	}

	sc.window[sc.idx%len(sc.window)] = entry.TP
	sc.idx++

	delete(sc.pending, id)

	return entry.Delay, entry.TP
}

// Forget drops a request that will never get a response.
func (sc *StatsCollector) Forget(id uuid.UUID) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	delete(sc.pending, id)
}

// AvgThroughput returns the mean throughput over the window. Slots not yet
// filled are not counted.
func (sc *StatsCollector) AvgThroughput() float64 {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	n := sc.idx
	if n > len(sc.window) {
		n = len(sc.window)
	}
	if n == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range sc.window[:n] {
		sum += v
	}
	return sum / float64(n)
}

// Pending returns how many requests are still waiting for a response.
func (sc *StatsCollector) Pending() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return len(sc.pending)
}
