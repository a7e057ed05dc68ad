// Package publish forwards completed scan reports to downstream sinks.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"signalpulse/logger"
	"signalpulse/models"
)

var ErrNotRunning = errors.New("publisher not running")

// Sink delivers one scan report.
type Sink interface {
	Name() string
	Publish(ctx context.Context, report models.ScanReport) error
	Close() error
}

// Observer receives per-sink delivery outcomes: "ok", "error" or "dropped".
type Observer interface {
	ObservePublish(sink, outcome string)
}

// Dispatcher queues reports and delivers them to every sink from a single
// background goroutine. Enqueue never blocks the scan path.
type Dispatcher struct {
	sinks    []Sink
	observer Observer
	queue    chan models.ScanReport
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log
}

func NewDispatcher(buffer int, observer Observer, sinks ...Sink) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{
		sinks:    sinks,
		observer: observer,
		queue:    make(chan models.ScanReport, buffer),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("publisher already running")
	}
	d.running = true
	d.ctx = ctx
	d.mu.Unlock()

	d.log.WithComponent("publisher").WithFields(logger.Fields{
		"sinks":  d.Sinks(),
		"buffer": cap(d.queue),
	}).Info("starting publisher")

	d.wg.Add(1)
	go d.run()
	return nil
}

// Enqueue schedules a report for delivery. A full queue drops the report.
func (d *Dispatcher) Enqueue(report models.ScanReport) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return ErrNotRunning
	}
	if len(d.sinks) == 0 {
		return nil
	}

	select {
	case d.queue <- report:
		return nil
	default:
		for _, s := range d.sinks {
			d.observe(s.Name(), "dropped")
		}
		d.log.WithComponent("publisher").WithFields(logger.Fields{
			"scan_id": report.ScanID,
			"venue":   report.Venue,
		}).Warn("publish queue full, dropping report")
		return nil
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			d.drain()
			return
		case report, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(report)
		}
	}
}

// drain delivers whatever was queued before shutdown.
func (d *Dispatcher) drain() {
	for {
		select {
		case report := <-d.queue:
			d.deliver(report)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(report models.ScanReport) {
	ctx := context.WithoutCancel(d.ctx)
	for _, s := range d.sinks {
		log := d.log.WithComponent("publisher").WithFields(logger.Fields{
			"sink":    s.Name(),
			"scan_id": report.ScanID,
			"venue":   report.Venue,
			"results": len(report.Results),
		})
		if err := s.Publish(ctx, report); err != nil {
			d.observe(s.Name(), "error")
			log.WithError(err).Warn("failed to publish scan report")
			continue
		}
		d.observe(s.Name(), "ok")
		log.Debug("scan report published")
	}
}

func (d *Dispatcher) observe(sink, outcome string) {
	if d.observer != nil {
		d.observer.ObservePublish(sink, outcome)
	}
}

// Stop waits for queued reports to be delivered and closes every sink. The
// context passed to Start must be cancelled first.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	wasRunning := d.running
	d.running = false
	d.mu.Unlock()

	if wasRunning {
		d.wg.Wait()
	}
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.log.WithComponent("publisher").WithError(err).WithFields(logger.Fields{"sink": s.Name()}).Warn("failed to close sink")
		}
	}
	d.log.WithComponent("publisher").Debug("publisher stopped")
}
