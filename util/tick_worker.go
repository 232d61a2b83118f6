package util

import (
	"sync"
	"time"

	"github.com/mohitkumar/drip/logger"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// TickWorker calls fn every interval until stopped. Calls never overlap: a
// slow fn delays the next tick. Stop returns only after a running fn has
// finished.
type TickWorker struct {
	stop         chan struct{}
	done         chan struct{}
	stopOnce     sync.Once
	started      *atomic.Bool
	tickInterval time.Duration
	wg           *sync.WaitGroup
	name         string
	fn           func()
	running      *atomic.Bool
}

func NewTickWorker(name string, interval time.Duration, fn func(), wg *sync.WaitGroup) *TickWorker {
	return &TickWorker{
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		started:      atomic.NewBool(false),
		tickInterval: interval,
		wg:           wg,
		fn:           fn,
		name:         name,
		running:      atomic.NewBool(false),
	}
}

func (tw *TickWorker) Start() {
	if !tw.started.CAS(false, true) {
		return
	}
	ticker := time.NewTicker(tw.tickInterval)
	tw.running.Store(true)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		defer close(tw.done)
		defer tw.running.Store(false)
		for {
			select {
			case <-ticker.C:
				tw.fn()
			case <-tw.stop:
				logger.Info("stopping tick worker", zap.String("worker", tw.name))
				ticker.Stop()
				return
			}
		}
	}()
	logger.Info("tick worker started", zap.String("worker", tw.name), zap.Duration("interval", tw.tickInterval))
}

func (tw *TickWorker) Stop() {
	tw.stopOnce.Do(func() { close(tw.stop) })
	if tw.started.Load() {
		<-tw.done
	}
}

func (tw *TickWorker) IsRunning() bool {
	return tw.running.Load()
}
