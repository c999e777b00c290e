package client

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ClassSummary aggregates the requests sent for one class.
type ClassSummary struct {
	Completed int
	Failed    int
	Bytes     int64

	TotalLatency time.Duration
	MaxLatency   time.Duration
}

// MeanLatency of the completed requests.
func (c ClassSummary) MeanLatency() time.Duration {
	if c.Completed == 0 {
		return 0
	}
	return c.TotalLatency / time.Duration(c.Completed)
}

// Summary of a run, keyed by class name.
type Summary map[string]*ClassSummary

type summaryRecorder struct {
	mutex   sync.Mutex
	summary Summary
}

func newSummaryRecorder(classes []string) *summaryRecorder {
	s := &summaryRecorder{summary: make(Summary, len(classes))}
	for _, class := range classes {
		s.summary[class] = &ClassSummary{}
	}
	return s
}

func (s *summaryRecorder) completed(class string, bytes int, latency time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	c := s.summary[class]
	c.Completed++
	c.Bytes += int64(bytes)
	c.TotalLatency += latency
	if latency > c.MaxLatency {
		c.MaxLatency = latency
	}
}

func (s *summaryRecorder) failed(class string) {
	s.mutex.Lock()
	s.summary[class].Failed++
	s.mutex.Unlock()
}

// Print writes one line per class, sorted by name.
func (s Summary) Print(w io.Writer) {
	classes := make([]string, 0, len(s))
	for class := range s {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	for _, class := range classes {
		c := s[class]
		fmt.Fprintf(w, "%s: completed=%d failed=%d bytes=%d mean_latency=%s max_latency=%s\n",
			class, c.Completed, c.Failed, c.Bytes, c.MeanLatency(), c.MaxLatency)
	}
}
