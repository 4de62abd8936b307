package geyser

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the per-plugin notification buffer.
const DefaultQueueSize = 4096

// ErrDispatcherClosed is returned when registering on a closed dispatcher.
var ErrDispatcherClosed = errors.New("geyser dispatcher closed")

// Dispatcher fans bank notifications out to plugins.
//
// Notifications are queued per plugin and delivered asynchronously, so a
// slow plugin never stalls transaction processing. When a plugin's queue is
// full the notification is dropped for that plugin and counted.
type Dispatcher struct {
	queueSize int

	mu      sync.RWMutex
	workers []*worker
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type event struct {
	account     *AccountUpdate
	transaction *TransactionUpdate
	slot        *SlotUpdate
}

type worker struct {
	plugin    Plugin
	queue     chan event
	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a dispatcher. A non-positive queueSize selects
// DefaultQueueSize.
func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		queueSize: queueSize,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Register starts delivering notifications to p.
func (d *Dispatcher) Register(p Plugin) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	w := &worker{plugin: p, queue: make(chan event, d.queueSize)}
	d.workers = append(d.workers, w)
	d.wg.Add(1)
	go d.run(w)
	log.Printf("[GEYSER] Registered plugin %s", p.Name())
	return nil
}

// OnAccountUpdate queues an account notification.
func (d *Dispatcher) OnAccountUpdate(update *AccountUpdate) {
	d.dispatch(event{account: update})
}

// OnTransaction queues a transaction notification.
func (d *Dispatcher) OnTransaction(update *TransactionUpdate) {
	d.dispatch(event{transaction: update})
}

// OnSlot queues a slot notification.
func (d *Dispatcher) OnSlot(update *SlotUpdate) {
	d.dispatch(event{slot: update})
}

func (d *Dispatcher) dispatch(ev event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	for _, w := range d.workers {
		select {
		case w.queue <- ev:
		default:
			if n := w.dropped.Add(1); n == 1 || n%1000 == 0 {
				log.Printf("[GEYSER] Plugin %s queue full, %d notifications dropped", w.plugin.Name(), n)
			}
		}
	}
}

func (d *Dispatcher) run(w *worker) {
	defer d.wg.Done()
	for ev := range w.queue {
		var err error
		switch {
		case ev.account != nil:
			err = w.plugin.OnAccountUpdate(d.ctx, ev.account)
		case ev.transaction != nil:
			err = w.plugin.OnTransaction(d.ctx, ev.transaction)
		case ev.slot != nil:
			err = w.plugin.OnSlot(d.ctx, ev.slot)
		}
		if err != nil {
			w.failed.Add(1)
			log.Printf("[GEYSER] Plugin %s: %v", w.plugin.Name(), err)
			continue
		}
		w.delivered.Add(1)
	}
}

// Stats returns delivery counters per plugin, in registration order.
func (d *Dispatcher) Stats() []PluginStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := make([]PluginStats, len(d.workers))
	for i, w := range d.workers {
		stats[i] = PluginStats{
			Name:      w.plugin.Name(),
			Delivered: w.delivered.Load(),
			Failed:    w.failed.Load(),
			Dropped:   w.dropped.Load(),
		}
	}
	return stats
}

// Close drains queued notifications, then closes every plugin.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, w := range d.workers {
		close(w.queue)
	}
	workers := d.workers
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()

	var errs []error
	for _, w := range workers {
		if err := w.plugin.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
