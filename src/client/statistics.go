package client

import (
	"bufio"
	"fairq/src/model"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// StatisticsLogger writes one CSV row per completed request.
type StatisticsLogger struct {
	mutex      sync.Mutex
	fileWriter *bufio.Writer
	file       io.Closer
}

const statisticsHeader string = "time_ns,class,size,latency_ns\n"

// NewStatisticsLogger creates the CSV at path.
func NewStatisticsLogger(path string) (*StatisticsLogger, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	s, err := newStatisticsLogger(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write to %s: %w", path, err)
	}
	return s, nil
}

func newStatisticsLogger(w io.Writer) (*StatisticsLogger, error) {
	s := &StatisticsLogger{fileWriter: bufio.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.file = c
	}

	if _, err := s.fileWriter.WriteString(statisticsHeader); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *StatisticsLogger) Log(timeFromStart time.Duration,
	r model.Request, latency time.Duration) error {
	row := fmt.Sprintf("%d,%s,%d,%d\n", timeFromStart.Nanoseconds(),
		r.Class, r.Size, latency.Nanoseconds())

	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, err := s.fileWriter.WriteString(row)
	return err
}

func (s *StatisticsLogger) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	err := s.fileWriter.Flush()
	if s.file != nil {
		if cerr := s.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
