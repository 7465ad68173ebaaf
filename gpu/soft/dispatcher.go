package soft

import (
	"runtime"
	"sync"
)

// parallelThreshold is the smallest dispatch handed to the worker pool.
// Smaller dispatches run on the calling goroutine.
const parallelThreshold = 4

type workChunk struct {
	start, end int
	fn         func(group int)
}

// dispatcher runs workgroups on persistent worker goroutines. Dispatch is
// asynchronous; Wait is the barrier.
type dispatcher struct {
	numWorkers int

	workChan chan workChunk
	stopChan chan struct{}
	workers  sync.WaitGroup
	inFlight sync.WaitGroup
	running  bool
}

func newDispatcher(workers int) *dispatcher {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &dispatcher{numWorkers: workers}
}

func (d *dispatcher) start() {
	if d.running {
		return
	}
	d.workChan = make(chan workChunk, d.numWorkers*2)
	d.stopChan = make(chan struct{})
	d.running = true
	for i := 0; i < d.numWorkers; i++ {
		d.workers.Add(1)
		go d.worker()
	}
}

func (d *dispatcher) stop() {
	if !d.running {
		return
	}
	d.inFlight.Wait()
	close(d.stopChan)
	d.workers.Wait()
	d.running = false
}

func (d *dispatcher) worker() {
	defer d.workers.Done()
	for {
		select {
		case <-d.stopChan:
			return
		case chunk := <-d.workChan:
			for g := chunk.start; g < chunk.end; g++ {
				chunk.fn(g)
			}
			d.inFlight.Done()
		}
	}
}

// Dispatch schedules fn for every group in [0, groups).
func (d *dispatcher) Dispatch(groups int, fn func(group int)) {
	if groups <= 0 {
		return
	}
	if !d.running || groups < parallelThreshold {
		for g := 0; g < groups; g++ {
			fn(g)
		}
		return
	}
	per := (groups + d.numWorkers - 1) / d.numWorkers
	for start := 0; start < groups; start += per {
		end := min(start+per, groups)
		d.inFlight.Add(1)
		d.workChan <- workChunk{start: start, end: end, fn: fn}
	}
}

// Wait blocks until every dispatched group has finished.
func (d *dispatcher) Wait() {
	d.inFlight.Wait()
}
