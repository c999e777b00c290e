package metrics

import (
	"context"
	"fairq/src/config"
	"fairq/src/server/fairqueue"
	"io"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Fairness writes, every window, the bytes admitted per class, their share of
// the window, the share the class is entitled to and how far apart they are.
type Fairness struct {
	mu    sync.Mutex
	out   *csvOut
	clock clock.WithTicker
	names *Names

	classes  []string
	index    map[string]int
	target   []float64
	bytesWin []int64
}

// NewFairness writes rows for classes to w. Bytes admitted in classes that
// are not listed are ignored.
func NewFairness(w io.Writer, names *Names, classes []config.Class, clk clock.WithTicker) *Fairness {
	f := &Fairness{
		clock:    clk,
		names:    names,
		classes:  make([]string, len(classes)),
		index:    make(map[string]int, len(classes)),
		bytesWin: make([]int64, len(classes)),
	}

	shares := make([]uint32, len(classes))
	for i, c := range classes {
		f.classes[i] = c.Name
		f.index[c.Name] = i
		shares[i] = c.Shares
	}
	f.target = normalizeWeights(shares)

	hdr := []string{"ts"}
	for _, prefix := range []string{"bytes_", "target_", "share_", "err_"} {
		for _, name := range f.classes {
			hdr = append(hdr, prefix+name)
		}
	}
	hdr = append(hdr, "mae", "jain")
	f.out = newCSVOut(w, hdr)

	return f
}

func (f *Fairness) OnQueue(*fairqueue.PriorityClass, fairqueue.Ticket) {}

func (f *Fairness) OnDispatch(pc *fairqueue.PriorityClass, desc fairqueue.Ticket) {
	if desc.Size == 0 {
		return
	}
	f.mu.Lock()
	if i, ok := f.index[f.names.Of(pc)]; ok {
		f.bytesWin[i] += int64(desc.Size)
	}
	f.mu.Unlock()
}

func (f *Fairness) OnFinish(fairqueue.Ticket, uint32) {}

// Run writes a row every interval until ctx is done.
func (f *Fairness) Run(ctx context.Context, interval time.Duration) {
	runTicker(ctx, f.clock, interval, f.flush)
}

// Flush writes the current window and starts a new one.
func (f *Fairness) Flush() {
	f.flush(f.clock.Now())
}

func (f *Fairness) flush(now time.Time) {
	f.mu.Lock()
	u := computeUtilization(f.bytesWin, f.target)

	row := []string{ts(now)}
	for _, b := range f.bytesWin {
		row = append(row, i64(b))
	}
	for _, col := range [][]float64{u.target, u.share, u.err} {
		for _, v := range col {
			row = append(row, f64(v))
		}
	}
	row = append(row, f64(u.mae), f64(u.jain))

	for i := range f.bytesWin {
		f.bytesWin[i] = 0
	}
	f.mu.Unlock()

	f.out.write(row)
}

// Close flushes and closes the underlying writer.
func (f *Fairness) Close() error {
	return f.out.close()
}
