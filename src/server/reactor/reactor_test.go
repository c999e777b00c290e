package reactor_test

import (
	"context"
	"fairq/src/logging"
	"fairq/src/server/fairqueue"
	"fairq/src/server/reactor"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startReactor(t *testing.T, fq *fairqueue.FairQueue) (*reactor.Reactor, context.CancelFunc, <-chan error) {
	t.Helper()

	r := reactor.New(fq, logging.NewTestLogger())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()
	return r, cancel, errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("reactor did not stop")
		return nil
	}
}

func TestReactor_CompletesAllWork(t *testing.T) {
	fq := fairqueue.New(fairqueue.NewConfig(4, 1_000_000))
	low := fq.RegisterPriorityClass(1)
	high := fq.RegisterPriorityClass(9)

	r, cancel, errCh := startReactor(t, fq)
	defer cancel()

	var wg sync.WaitGroup
	var running, maxRunning, completed int32

	work := func(done func()) {
		defer wg.Done()
		defer done()

		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		atomic.AddInt32(&completed, 1)
	}

	var producers sync.WaitGroup
	for _, pc := range []*fairqueue.PriorityClass{low, high} {
		producers.Add(1)
		go func(pc *fairqueue.PriorityClass) {
			defer producers.Done()
			for i := 0; i < 50; i++ {
				wg.Add(1)
				r.Submit(pc, fairqueue.NewTicket(1, 1000), work)
			}
		}(pc)
	}
	producers.Wait()
	wg.Wait()

	cancel()
	require.NoError(t, waitRun(t, errCh))

	assert.Equal(t, int32(100), atomic.LoadInt32(&completed))
	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(4))
	assert.Equal(t, fairqueue.Ticket{}, fq.ResourcesCurrentlyExecuting())
	assert.Equal(t, fairqueue.Ticket{}, fq.ResourcesCurrentlyWaiting())
}

func TestReactor_DoneIsIdempotent(t *testing.T) {
	fq := fairqueue.New(fairqueue.NewConfig(1, 1_000_000))
	pc := fq.RegisterPriorityClass(1)

	r, cancel, errCh := startReactor(t, fq)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		r.Submit(pc, fairqueue.NewTicket(1, 10), func(done func()) {
			defer wg.Done()
			done()
			done()
		})
	}
	wg.Wait()

	r.Stop()
	require.NoError(t, waitRun(t, errCh))
	assert.Equal(t, fairqueue.Ticket{}, fq.ResourcesCurrentlyExecuting())
}

func TestReactor_WorkPanics(t *testing.T) {
	fq := fairqueue.New(fairqueue.NewConfig(1, 1_000_000))
	pc := fq.RegisterPriorityClass(1)

	r, cancel, errCh := startReactor(t, fq)
	defer cancel()

	finished := make(chan struct{})
	r.Submit(pc, fairqueue.NewTicket(1, 10), func(done func()) {
		panic("boom")
	})
	// Admitted only once the panicking work released its capacity.
	r.Submit(pc, fairqueue.NewTicket(1, 10), func(done func()) {
		defer close(finished)
		done()
	})

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("second request was never admitted")
	}

	cancel()
	require.NoError(t, waitRun(t, errCh))
}

func TestReactor_StopWithQueuedRequests(t *testing.T) {
	fq := fairqueue.New(fairqueue.NewConfig(1, 1_000_000))
	pc := fq.RegisterPriorityClass(1)

	r, cancel, errCh := startReactor(t, fq)
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	r.Submit(pc, fairqueue.NewTicket(1, 10), func(done func()) {
		defer done()
		close(started)
		<-release
	})
	r.Submit(pc, fairqueue.NewTicket(1, 10), func(done func()) {
		done()
	})

	<-started
	r.Stop()
	close(release)

	err := waitRun(t, errCh)
	assert.ErrorIs(t, err, fairqueue.ErrNotDrained)
}

func TestReactor_Post(t *testing.T) {
	fq := fairqueue.New(fairqueue.DefaultConfig())
	pc := fq.RegisterPriorityClass(1)

	r, cancel, errCh := startReactor(t, fq)
	defer cancel()

	shares := make(chan uint32, 1)
	r.Post(func(fq *fairqueue.FairQueue) {
		pc.UpdateShares(7)
		shares <- pc.Shares()
	})
	assert.Equal(t, uint32(7), <-shares)

	cancel()
	require.NoError(t, waitRun(t, errCh))
}

func TestReactor_SubmitAfterStop(t *testing.T) {
	fq := fairqueue.New(fairqueue.DefaultConfig())
	pc := fq.RegisterPriorityClass(1)

	r, cancel, errCh := startReactor(t, fq)
	assert.True(t, r.Post(func(*fairqueue.FairQueue) {}))

	cancel()
	require.NoError(t, waitRun(t, errCh))

	ran := false
	assert.False(t, r.Submit(pc, fairqueue.NewTicket(1, 10), func(done func()) {
		ran = true
		done()
	}))
	assert.False(t, r.Post(func(*fairqueue.FairQueue) { ran = true }))
	assert.False(t, ran)
	assert.Equal(t, fairqueue.Ticket{}, fq.ResourcesCurrentlyWaiting())
}
