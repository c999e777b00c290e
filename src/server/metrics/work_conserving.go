package metrics

import (
	"context"
	"fairq/src/server/fairqueue"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

// WorkConserving measures, per window, how long requests were waiting while
// nothing was executing. A work-conserving queue keeps that time close to 0.
type WorkConserving struct {
	mu    sync.Mutex
	out   *csvOut
	clock clock.WithTicker
	last  time.Time

	backlog   int64 // requests queued and not yet admitted
	executing int64 // requests admitted and not yet finished

	winBusy    time.Duration // backlog>0 && executing>0
	winIdle    time.Duration // backlog>0 && executing==0
	winBacklog time.Duration // backlog>0
}

func NewWorkConserving(w io.Writer, clk clock.WithTicker) *WorkConserving {
	return &WorkConserving{
		out:   newCSVOut(w, []string{"ts", "busy_ms", "idle_ms", "backlog_ms", "ratio"}),
		clock: clk,
		last:  clk.Now(),
	}
}

func (w *WorkConserving) OnQueue(*fairqueue.PriorityClass, fairqueue.Ticket) {
	w.mu.Lock()
	w.tickLocked(w.clock.Now())
	w.backlog++
	w.mu.Unlock()
}

func (w *WorkConserving) OnDispatch(*fairqueue.PriorityClass, fairqueue.Ticket) {
	w.mu.Lock()
	w.tickLocked(w.clock.Now())
	w.backlog--
	w.executing++
	w.mu.Unlock()
}

func (w *WorkConserving) OnFinish(_ fairqueue.Ticket, n uint32) {
	w.mu.Lock()
	w.tickLocked(w.clock.Now())
	w.executing -= int64(n)
	w.mu.Unlock()
}

// Ratio returns the fraction of the current window's backlogged time during
// which something was executing, 1 if there was no backlog.
func (w *WorkConserving) Ratio() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.tickLocked(w.clock.Now())
	return w.ratioLocked()
}

// Register exports Ratio as a gauge of reg.
func (w *WorkConserving) Register(reg prometheus.Registerer) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "work_conserving_ratio",
		Help:      "Fraction of the backlogged time of the current window during which requests were executing.",
	}, w.Ratio))
}

// Run writes a row every interval until ctx is done.
func (w *WorkConserving) Run(ctx context.Context, interval time.Duration) {
	runTicker(ctx, w.clock, interval, w.flush)
}

// Flush writes the current window and starts a new one.
func (w *WorkConserving) Flush() {
	w.flush(w.clock.Now())
}

func (w *WorkConserving) flush(now time.Time) {
	w.mu.Lock()
	w.tickLocked(now)
	row := []string{
		ts(now),
		i64(w.winBusy.Milliseconds()), i64(w.winIdle.Milliseconds()), i64(w.winBacklog.Milliseconds()),
		f64(w.ratioLocked()),
	}
	w.winBusy, w.winIdle, w.winBacklog = 0, 0, 0
	w.mu.Unlock()

	w.out.write(row)
}

// Close flushes and closes the underlying writer.
func (w *WorkConserving) Close() error {
	return w.out.close()
}

// accumulates time since w.last according to the current state
func (w *WorkConserving) tickLocked(now time.Time) {
	dt := now.Sub(w.last)
	if dt < 0 {
		dt = 0
	}
	w.last = now
	if w.backlog > 0 {
		w.winBacklog += dt
		if w.executing > 0 {
			w.winBusy += dt
		} else {
			w.winIdle += dt
		}
	}
}

func (w *WorkConserving) ratioLocked() float64 {
	if w.winBacklog == 0 {
		return 1
	}
	return float64(w.winBusy) / float64(w.winBacklog)
}
