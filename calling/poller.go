/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tejzpr/voip-dialer-go-sdk/dialersdk"
)

// BalancePoller refreshes the account balance while a call is answered:
// once on Start, then every interval until Stop. Failures are logged and
// polling continues.
type BalancePoller struct {
	mu       sync.Mutex
	fetcher  BalanceFetcher
	clock    Clock
	interval time.Duration
	logger   dialersdk.Logger
	onUpdate func(balance float64)

	ticker  *ticker
	cancel  context.CancelFunc
	run     uint64
	balance float64
	known   bool
}

// NewBalancePoller creates a stopped poller. onUpdate, if set, is called
// after every successful fetch of the current run.
func NewBalancePoller(fetcher BalanceFetcher, clock Clock, interval time.Duration, logger dialersdk.Logger, onUpdate func(float64)) *BalancePoller {
	if clock == nil {
		clock = RealClock{}
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &BalancePoller{
		fetcher:  fetcher,
		clock:    clock,
		interval: interval,
		logger:   logger,
		onUpdate: onUpdate,
	}
}

// Start begins polling. Starting a running poller does nothing.
func (p *BalancePoller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fetcher == nil || p.ticker != nil {
		return
	}

	p.run++
	run := p.run
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	go p.fetch(ctx, run)
	p.ticker = newTicker(p.clock, p.interval, func() {
		go p.fetch(ctx, run)
	})
}

// Stop ends polling and discards responses still in flight
func (p *BalancePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	p.ticker = nil
	p.cancel()
	p.cancel = nil
	p.run++
}

// Running reports whether the poller is active
func (p *BalancePoller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticker != nil
}

// Balance returns the last fetched balance and whether one was ever fetched
func (p *BalancePoller) Balance() (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, p.known
}

func (p *BalancePoller) fetch(ctx context.Context, run uint64) {
	ctx, cancel := context.WithTimeout(ctx, p.interval*5)
	defer cancel()

	balance, err := p.fetcher.FetchBalance(ctx)
	if err != nil {
		if ctx.Err() == nil {
			dialersdk.Warnf(p.logger, "balance poll failed: %v", err)
		}
		return
	}

	p.mu.Lock()
	if run != p.run {
		p.mu.Unlock()
		return
	}
	p.balance = balance
	p.known = true
	onUpdate := p.onUpdate
	p.mu.Unlock()

	if onUpdate != nil {
		onUpdate(balance)
	}
}
