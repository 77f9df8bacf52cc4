package broadcast

import (
	"hash/fnv"
	"sync"

	"github.com/decred/slog"
)

// Dispatcher moves envelopes from publishers to the hub on a fixed set of
// workers. Envelopes are sharded by round id (player id for round-less
// events), so all events of one round are handled by the same worker and
// reach subscribers in publish order.
type Dispatcher struct {
	hub     *Hub
	log     slog.Logger
	workers []*dispatchWorker
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
	mu      sync.Mutex
}

type dispatchWorker struct {
	id    int
	queue chan Envelope
	d     *Dispatcher
}

// NewDispatcher creates a dispatcher with workerCount workers, each with a
// queue of queueSize envelopes.
func NewDispatcher(hub *Hub, log slog.Logger, queueSize, workerCount int) *Dispatcher {
	if log == nil {
		log = slog.Disabled
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if workerCount <= 0 {
		workerCount = 3
	}
	d := &Dispatcher{
		hub:  hub,
		log:  log,
		stop: make(chan struct{}),
	}
	d.workers = make([]*dispatchWorker, workerCount)
	for i := range d.workers {
		d.workers[i] = &dispatchWorker{id: i, queue: make(chan Envelope, queueSize), d: d}
	}
	return d
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	d.log.Infof("Starting dispatcher with %d workers", len(d.workers))
	for _, w := range d.workers {
		d.wg.Add(1)
		go w.run()
	}
}

// Stop signals the workers and waits for them. Queued envelopes are
// delivered before the workers exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return
	}
	d.log.Infof("Stopping dispatcher...")
	close(d.stop)
	d.wg.Wait()
	d.started = false
	d.log.Infof("Dispatcher stopped")
}

// Publish queues env for delivery. It blocks while the shard queue is full,
// since dropping here would leave a gap for every subscriber.
func (d *Dispatcher) Publish(env Envelope) {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		d.log.Warnf("Dispatcher not started, dropping event: %s", env.Kind())
		return
	}

	w := d.workers[d.shard(env)]
	select {
	case w.queue <- env:
		d.log.Tracef("Published %s seq=%d for round %s", env.Kind(), env.Seq, env.RoundID)
	case <-d.stop:
		d.log.Warnf("Dispatcher stopping, dropping event: %s", env.Kind())
	}
}

func (d *Dispatcher) shard(env Envelope) int {
	key := env.RoundID
	if key == "" {
		key = env.PlayerID
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (w *dispatchWorker) run() {
	defer w.d.wg.Done()
	w.d.log.Debugf("Dispatch worker %d started", w.id)
	for {
		select {
		case env := <-w.queue:
			w.d.hub.Deliver(env)
		case <-w.d.stop:
			for {
				select {
				case env := <-w.queue:
					w.d.hub.Deliver(env)
				default:
					w.d.log.Debugf("Dispatch worker %d stopped", w.id)
					return
				}
			}
		}
	}
}
