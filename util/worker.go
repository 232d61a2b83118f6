package util

import (
	"sync"

	"github.com/mohitkumar/drip/logger"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type Task func()

// Worker is a fixed size pool. Submit never blocks: a task is accepted only
// when a slot is free, so callers can size their work by Idle.
type Worker struct {
	name     string
	capacity int
	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
	stopped  bool
	wg       *sync.WaitGroup
	taskChan chan Task
	inflight *atomic.Int32
}

func NewWorker(name string, wg *sync.WaitGroup, capacity int) *Worker {
	if capacity < 1 {
		capacity = 1
	}
	return &Worker{
		name:     name,
		capacity: capacity,
		stop:     make(chan struct{}),
		wg:       wg,
		taskChan: make(chan Task, capacity),
		inflight: atomic.NewInt32(0),
	}
}

func (w *Worker) Start() {
	for i := 0; i < w.capacity; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case task := <-w.taskChan:
					w.run(task)
				case <-w.stop:
					w.drain()
					return
				}
			}
		}()
	}
	logger.Info("worker pool started", zap.String("worker", w.name), zap.Int("capacity", w.capacity))
}

// drain runs tasks that were accepted before Stop.
func (w *Worker) drain() {
	for {
		select {
		case task := <-w.taskChan:
			w.run(task)
		default:
			return
		}
	}
}

func (w *Worker) run(task Task) {
	defer w.inflight.Dec()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in worker task", zap.String("worker", w.name), zap.Any("panic", r))
		}
	}()
	task()
}

// Submit hands the task to the pool and reports false when every slot is
// taken or the pool is stopped.
func (w *Worker) Submit(task Task) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return false
	}
	if w.inflight.Inc() > int32(w.capacity) {
		w.inflight.Dec()
		return false
	}
	w.taskChan <- task
	return true
}

// Idle reports the free slots. A stopped pool has none.
func (w *Worker) Idle() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return 0
	}
	idle := w.capacity - int(w.inflight.Load())
	if idle < 0 {
		return 0
	}
	return idle
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		logger.Info("stopping worker pool", zap.String("worker", w.name))
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
		close(w.stop)
	})
}
