package util

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestWorkerCapacity(t *testing.T) {
	var wg sync.WaitGroup
	w := NewWorker("test", &wg, 2)
	w.Start()

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	block := func() {
		started <- struct{}{}
		<-release
	}
	require.Equal(t, 2, w.Idle())
	require.True(t, w.Submit(block))
	require.True(t, w.Submit(block))
	require.False(t, w.Submit(block))
	require.Equal(t, 0, w.Idle())

	<-started
	<-started
	close(release)
	require.Eventually(t, func() bool { return w.Idle() == 2 }, time.Second, 5*time.Millisecond)

	w.Stop()
	wg.Wait()
}

func TestWorkerRecoversPanic(t *testing.T) {
	var wg sync.WaitGroup
	w := NewWorker("test", &wg, 1)
	w.Start()

	require.True(t, w.Submit(func() { panic("boom") }))
	require.Eventually(t, func() bool { return w.Idle() == 1 }, time.Second, 5*time.Millisecond)

	done := atomic.NewBool(false)
	require.True(t, w.Submit(func() { done.Store(true) }))
	require.Eventually(t, done.Load, time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()
	wg.Wait()
}

func TestTickWorker(t *testing.T) {
	var wg sync.WaitGroup
	count := atomic.NewInt32(0)
	tw := NewTickWorker("test", 10*time.Millisecond, func() { count.Inc() }, &wg)
	tw.Start()
	require.True(t, tw.IsRunning())

	require.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, 5*time.Millisecond)
	tw.Stop()
	wg.Wait()
	require.False(t, tw.IsRunning())
}

func TestWorkerRejectsAfterStop(t *testing.T) {
	var wg sync.WaitGroup
	w := NewWorker("test", &wg, 2)
	w.Start()
	w.Stop()
	wg.Wait()

	ran := atomic.NewBool(false)
	require.False(t, w.Submit(func() { ran.Store(true) }))
	require.Equal(t, 0, w.Idle())
	require.False(t, ran.Load())
}

func TestWorkerRunsAcceptedTasksOnStop(t *testing.T) {
	var wg sync.WaitGroup
	w := NewWorker("test", &wg, 3)
	count := atomic.NewInt32(0)
	for i := 0; i < 3; i++ {
		require.True(t, w.Submit(func() { count.Inc() }))
	}
	w.Start()
	w.Stop()
	wg.Wait()
	require.Equal(t, int32(3), count.Load())
}

func TestTickWorkerStopWaitsForRunningCall(t *testing.T) {
	var wg sync.WaitGroup
	entered := make(chan struct{})
	release := make(chan struct{})
	finished := atomic.NewBool(false)
	var once sync.Once
	tw := NewTickWorker("test", 5*time.Millisecond, func() {
		once.Do(func() {
			close(entered)
			<-release
			finished.Store(true)
		})
	}, &wg)
	tw.Start()
	<-entered

	stopped := make(chan struct{})
	go func() {
		tw.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while the tick function was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped
	require.True(t, finished.Load())
	wg.Wait()
}

func TestTickWorkerStopWithoutStart(t *testing.T) {
	var wg sync.WaitGroup
	tw := NewTickWorker("test", time.Second, func() {}, &wg)
	tw.Stop()
	require.False(t, tw.IsRunning())
}
