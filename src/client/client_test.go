package client

import (
	"bytes"
	"fairq/src/model"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestClientOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultClientOptions().Validate())

	err := ClientOptions{Rate: -1}.Validate()
	assert.Len(t, multierr.Errors(err), 5)
}

func TestStatisticsLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.csv")
	s, err := NewStatisticsLogger(path)
	require.NoError(t, err)

	req := model.Request{Class: model.HIGH_PRIORITY, Size: 100}
	require.NoError(t, s.Log(2*time.Millisecond, req, time.Millisecond))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "time_ns,class,size,latency_ns\n2000000,high,100,1000000\n", string(data))
}

func TestStatisticsLogger_BadPath(t *testing.T) {
	_, err := NewStatisticsLogger(filepath.Join(t.TempDir(), "missing", "stats.csv"))
	assert.Error(t, err)
}

func TestSummary(t *testing.T) {
	recorder := newSummaryRecorder([]string{"b", "a"})
	recorder.completed("a", 10, time.Millisecond)
	recorder.completed("a", 30, 3*time.Millisecond)
	recorder.failed("b")

	a := recorder.summary["a"]
	assert.Equal(t, 2, a.Completed)
	assert.Equal(t, int64(40), a.Bytes)
	assert.Equal(t, 2*time.Millisecond, a.MeanLatency())
	assert.Equal(t, 3*time.Millisecond, a.MaxLatency)
	assert.Equal(t, time.Duration(0), recorder.summary["b"].MeanLatency())

	buf := &bytes.Buffer{}
	recorder.summary.Print(buf)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "a: completed=2 failed=0 bytes=40"))
	assert.True(t, strings.HasPrefix(lines[1], "b: completed=0 failed=1"))
}
