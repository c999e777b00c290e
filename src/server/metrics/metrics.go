// Package metrics observes a fair queue. Collector exports Prometheus gauges
// and counters; Fairness and WorkConserving write periodic CSV rows.
package metrics

import (
	"context"
	"encoding/csv"
	"fairq/src/server/fairqueue"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

const namespace = "fairq"

// -------- class names --------

// Names maps priority classes to the names they were configured with.
type Names struct {
	mu sync.RWMutex
	m  map[uint64]string
}

func NewNames() *Names {
	return &Names{m: map[uint64]string{}}
}

func (n *Names) Set(pc *fairqueue.PriorityClass, name string) {
	n.mu.Lock()
	n.m[pc.ID()] = name
	n.mu.Unlock()
}

// Of returns the name of pc, or "class-<id>" if it was never named.
func (n *Names) Of(pc *fairqueue.PriorityClass) string {
	n.mu.RLock()
	name, ok := n.m[pc.ID()]
	n.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("class-%d", pc.ID())
	}
	return name
}

// -------- Prometheus --------

// Collector keeps Prometheus metrics in line with the resources of a fair
// queue. It must be installed with fairqueue.WithObserver.
type Collector struct {
	names *Names

	executingWeight prometheus.Gauge
	executingSize   prometheus.Gauge
	waitingWeight   prometheus.Gauge
	waitingSize     prometheus.Gauge

	queued          *prometheus.CounterVec
	dispatched      *prometheus.CounterVec
	dispatchedBytes *prometheus.CounterVec
	finished        prometheus.Counter
}

func NewCollector(names *Names) *Collector {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		})
	}
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"class"})
	}

	return &Collector{
		names: names,

		executingWeight: gauge("executing_weight", "Weight of the requests currently executing."),
		executingSize:   gauge("executing_size_bytes", "Size of the requests currently executing."),
		waitingWeight:   gauge("waiting_weight", "Weight of the requests waiting for admission."),
		waitingSize:     gauge("waiting_size_bytes", "Size of the requests waiting for admission."),

		queued:          counter("queued_requests_total", "Requests queued per class."),
		dispatched:      counter("dispatched_requests_total", "Requests admitted per class."),
		dispatchedBytes: counter("dispatched_bytes_total", "Bytes admitted per class."),
		finished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finished_requests_total",
			Help:      "Requests whose completion was notified.",
		}),
	}
}

// Register adds every metric of the collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, m := range []prometheus.Collector{
		c.executingWeight, c.executingSize, c.waitingWeight, c.waitingSize,
		c.queued, c.dispatched, c.dispatchedBytes, c.finished,
	} {
		if err := reg.Register(m); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}
	return nil
}

func (c *Collector) OnQueue(pc *fairqueue.PriorityClass, desc fairqueue.Ticket) {
	c.waitingWeight.Add(float64(desc.Weight))
	c.waitingSize.Add(float64(desc.Size))
	c.queued.WithLabelValues(c.names.Of(pc)).Inc()
}

func (c *Collector) OnDispatch(pc *fairqueue.PriorityClass, desc fairqueue.Ticket) {
	c.waitingWeight.Sub(float64(desc.Weight))
	c.waitingSize.Sub(float64(desc.Size))
	c.executingWeight.Add(float64(desc.Weight))
	c.executingSize.Add(float64(desc.Size))

	name := c.names.Of(pc)
	c.dispatched.WithLabelValues(name).Inc()
	c.dispatchedBytes.WithLabelValues(name).Add(float64(desc.Size))
}

// OnFinish releases desc, the total cost of the n finished requests.
func (c *Collector) OnFinish(desc fairqueue.Ticket, n uint32) {
	c.executingWeight.Sub(float64(desc.Weight))
	c.executingSize.Sub(float64(desc.Size))
	c.finished.Add(float64(n))
}

// Gauges holds the resource gauges of a Collector.
type Gauges struct {
	ExecutingWeight, ExecutingSize prometheus.Gauge
	WaitingWeight, WaitingSize     prometheus.Gauge
}

func (c *Collector) Gauges() Gauges {
	return Gauges{
		ExecutingWeight: c.executingWeight,
		ExecutingSize:   c.executingSize,
		WaitingWeight:   c.waitingWeight,
		WaitingSize:     c.waitingSize,
	}
}

// -------- fan out --------

type observers []fairqueue.Observer

// Observers returns an observer forwarding every event to each of obs in
// order.
func Observers(obs ...fairqueue.Observer) fairqueue.Observer {
	return observers(obs)
}

func (o observers) OnQueue(pc *fairqueue.PriorityClass, desc fairqueue.Ticket) {
	for _, obs := range o {
		obs.OnQueue(pc, desc)
	}
}

func (o observers) OnDispatch(pc *fairqueue.PriorityClass, desc fairqueue.Ticket) {
	for _, obs := range o {
		obs.OnDispatch(pc, desc)
	}
}

func (o observers) OnFinish(desc fairqueue.Ticket, n uint32) {
	for _, obs := range o {
		obs.OnFinish(desc, n)
	}
}

// -------- CSV writers --------

type csvOut struct {
	c  io.Closer
	w  *csv.Writer
	mu sync.Mutex
}

func newCSVOut(w io.Writer, hdr []string) *csvOut {
	out := &csvOut{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		out.c = c
	}
	out.write(hdr)
	return out
}

// CreateCSV creates the file at path, and its parent directories.
func CreateCSV(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("csv dir %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv create %s: %w", path, err)
	}
	return f, nil
}

func (c *csvOut) write(row []string) {
	c.mu.Lock()
	_ = c.w.Write(row)
	c.w.Flush()
	c.mu.Unlock()
}

func (c *csvOut) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.w.Flush()
	err := c.w.Error()
	if c.c != nil {
		if cerr := c.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// runTicker calls flush every interval of clk until ctx is done.
func runTicker(ctx context.Context, clk clock.WithTicker, interval time.Duration, flush func(time.Time)) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			flush(now)
		}
	}
}

func i64(v int64) string   { return strconv.FormatInt(v, 10) }
func f64(v float64) string { return strconv.FormatFloat(v, 'f', 6, 64) }
func ts(t time.Time) string { return t.Format(time.RFC3339Nano) }
