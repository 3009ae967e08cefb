// Package monitor watches server reachability and decides when a sync
// cycle should run: on the offline-to-online transition (after a settle
// delay, so a flapping link does not trigger a burst) and on a periodic
// schedule while online.
package monitor

import (
	"context"
	stdsync "sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/creditapp/offlinesync/internal/logging"
)

// Pinger probes server reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SyncFunc starts a sync cycle. The engine tolerates overlapping calls,
// so the monitor fires without coordinating with it.
type SyncFunc func(ctx context.Context)

// Options tune the monitor. Zero values fall back to defaults.
type Options struct {
	// ProbeInterval is how often reachability is checked.
	ProbeInterval time.Duration
	// SettleDelay is how long to wait after coming back online before
	// triggering a sync.
	SettleDelay time.Duration
	// SyncInterval is the periodic sync schedule while online.
	SyncInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 15 * time.Second
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = 5 * time.Minute
	}
	return o
}

// Monitor drives the probe loop and the periodic schedule.
type Monitor struct {
	pinger Pinger
	sync   SyncFunc
	opts   Options
	log    *logrus.Entry

	mu     stdsync.Mutex
	online bool

	cron   *cron.Cron
	cancel context.CancelFunc
	done   chan struct{}
	wg     stdsync.WaitGroup
}

// New creates a Monitor. sync is invoked from the monitor's goroutines.
func New(pinger Pinger, sync SyncFunc, opts Options) *Monitor {
	return &Monitor{
		pinger: pinger,
		sync:   sync,
		opts:   opts.withDefaults(),
		log:    logging.WithComponent("monitor"),
	}
}

// Start launches the probe loop and the periodic schedule. It returns
// immediately; the first probe runs right away so startup state is known
// without waiting a full interval.
func (m *Monitor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	m.cron = cron.New()
	_, err := m.cron.AddFunc("@every "+m.opts.SyncInterval.String(), func() {
		if m.IsOnline() {
			m.runSync(ctx)
		}
	})
	if err != nil {
		cancel()
		return err
	}
	m.cron.Start()

	go m.probeLoop(ctx)
	return nil
}

// Stop halts the schedule and the probe loop and waits for in-flight
// sync invocations started by the monitor.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	stopCtx := m.cron.Stop()
	<-stopCtx.Done()
	m.wg.Wait()
}

// IsOnline reports the last probe verdict.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// TriggerNow requests an immediate sync. Offline it is a logged no-op;
// the transition handler will catch up once connectivity returns.
func (m *Monitor) TriggerNow(ctx context.Context) {
	if !m.IsOnline() {
		m.log.Debug("manual sync requested while offline, skipping")
		return
	}
	m.runSync(ctx)
}

func (m *Monitor) runSync(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.sync(ctx)
	}()
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

// probe checks reachability once and handles the state transition. Only
// the offline-to-online edge triggers a sync; steady states do nothing.
func (m *Monitor) probe(ctx context.Context) {
	err := m.pinger.Ping(ctx)
	nowOnline := err == nil

	m.mu.Lock()
	wasOnline := m.online
	m.online = nowOnline
	m.mu.Unlock()

	switch {
	case nowOnline && !wasOnline:
		m.log.Info("server reachable, scheduling sync")
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if m.opts.SettleDelay > 0 {
				timer := time.NewTimer(m.opts.SettleDelay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return
				case <-timer.C:
				}
			}
			m.sync(ctx)
		}()
	case !nowOnline && wasOnline:
		m.log.WithError(err).Warn("server unreachable, entering offline mode")
	}
}
