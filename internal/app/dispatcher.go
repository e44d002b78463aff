package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gyakuten/llmoradar/internal/domain"
	"github.com/gyakuten/llmoradar/internal/ports"
)

var _ ports.AlertSink = (*AlertDispatcher)(nil)

// AlertDispatcher fans alerts out to alerters and subscribers on its own
// goroutine. Notify never blocks: when the buffer is full the alert is
// dropped and counted.
type AlertDispatcher struct {
	alertChan   chan *domain.Alert
	alerters    []ports.Alerter
	subscribers []ports.AlertSubscriber
	sendTimeout time.Duration

	dropped atomic.Int64
	stopped atomic.Bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
	mu       sync.RWMutex
}

func NewAlertDispatcher(bufferSize int, alerters ...ports.Alerter) *AlertDispatcher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &AlertDispatcher{
		alertChan:   make(chan *domain.Alert, bufferSize),
		alerters:    alerters,
		sendTimeout: 10 * time.Second,
		stopChan:    make(chan struct{}),
	}
}

func (d *AlertDispatcher) AddAlerter(alerter ports.Alerter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.alerters = append(d.alerters, alerter)
}

func (d *AlertDispatcher) AddSubscriber(sub ports.AlertSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

func (d *AlertDispatcher) Notify(alert *domain.Alert) {
	if alert == nil || d.stopped.Load() {
		return
	}
	select {
	case d.alertChan <- alert:
	default:
		d.dropped.Add(1)
		log.Warn().Str("kind", string(alert.Kind)).Msg("Alert buffer full, alert dropped")
	}
}

func (d *AlertDispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

func (d *AlertDispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			return
		case <-d.stopChan:
			d.drain()
			return
		case alert := <-d.alertChan:
			d.dispatch(alert)
		}
	}
}

func (d *AlertDispatcher) drain() {
	for {
		select {
		case alert := <-d.alertChan:
			d.dispatch(alert)
		default:
			return
		}
	}
}

func (d *AlertDispatcher) dispatch(alert *domain.Alert) {
	d.mu.RLock()
	alerters := d.alerters
	subscribers := d.subscribers
	d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	for _, alerter := range alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Debug().Err(err).Str("alert_id", alert.ID).Msg("Alert send failed")
		}
	}
	for _, sub := range subscribers {
		sub.OnAlert(alert)
	}
}

// Dropped returns the number of alerts lost to a full buffer.
func (d *AlertDispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Stop delivers buffered alerts, then flushes and closes every alerter.
func (d *AlertDispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stopChan)
		d.wg.Wait()

		d.mu.RLock()
		defer d.mu.RUnlock()
		for _, alerter := range d.alerters {
			if err := alerter.Flush(); err != nil {
				log.Error().Err(err).Msg("Failed to flush alerter")
			}
			if err := alerter.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close alerter")
			}
		}
	})
}
