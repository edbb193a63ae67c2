// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package router

import (
	"context"
	"sync"
	"time"

	"github.com/nohassle/hdmi-matrix-bridge/pkg/errors"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/interfaces"
	"github.com/nohassle/hdmi-matrix-bridge/pkg/logger"
)

// Poller refreshes the router state on a fixed interval. Polling is lower
// priority than user-initiated commands: a tick that lands while a command is
// pending is skipped and the next one catches up.
type Poller struct {
	router   interfaces.ZoneRouter
	interval time.Duration

	mu      sync.Mutex
	reset   chan time.Duration
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPoller creates a poller over the given router.
func NewPoller(router interfaces.ZoneRouter, interval time.Duration) *Poller {
	return &Poller{
		router:   router,
		interval: interval,
		reset:    make(chan time.Duration, 1),
	}
}

// Start launches the polling loop. The first refresh happens immediately so
// entity state initializes without waiting a full interval.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop cancels the polling loop and waits for it to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	started := p.started
	p.started = false
	p.mu.Unlock()

	if !started {
		return
	}
	cancel()
	p.wg.Wait()
	logger.Info().Msg("Status poller stopped")
}

// UpdateInterval applies a new poll interval from a config reload.
func (p *Poller) UpdateInterval(interval time.Duration) {
	select {
	case p.reset <- interval:
	default:
	}
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	logger.Info().Dur("interval", p.interval).Msg("Status poller started")

	p.refresh(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case interval := <-p.reset:
			if interval > 0 && interval != p.interval {
				p.interval = interval
				ticker.Reset(interval)
				logger.Info().Dur("interval", interval).Msg("Poll interval updated")
			}
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	err := p.router.Refresh(ctx)
	switch {
	case err == nil:
	case err == errors.ErrPollSkipped:
		logger.Debug().Msg("Poll skipped, command pending")
	default:
		// Refresh already logged and counted the failure.
	}
}
