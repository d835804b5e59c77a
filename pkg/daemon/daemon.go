// Copyright 2019 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// CycleFunc is the body of one daemon cycle.
type CycleFunc func(ctx context.Context) error

// Daemon invokes a CycleFunc on a fixed interval from a dedicated goroutine.
// Cycles never overlap: the next interval is timed from the end of the
// previous cycle. A failed or panicking cycle is logged and the daemon keeps
// going.
type Daemon struct {
	name     string
	interval time.Duration
	cycle    CycleFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running atomic.Bool
	rounds  atomic.Int64
}

// New creates a daemon. It does nothing until Start is called.
func New(name string, interval time.Duration, cycle CycleFunc) *Daemon {
	return &Daemon{
		name:     name,
		interval: interval,
		cycle:    cycle,
	}
}

// Name returns the name of the daemon.
func (d *Daemon) Name() string {
	return d.name
}

// Interval returns the scheduling interval.
func (d *Daemon) Interval() time.Duration {
	return d.interval
}

// Rounds returns how many cycles have completed.
func (d *Daemon) Rounds() int64 {
	return d.rounds.Load()
}

// Start runs the daemon loop in a new goroutine until ctx is done or Stop
// is called. Starting a running daemon is a no-op.
func (d *Daemon) Start(ctx context.Context) {
	if !d.running.CAS(false, true) {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.run()
}

// Stop cancels the loop and waits for the in-flight cycle to return.
func (d *Daemon) Stop() {
	if !d.running.CAS(true, false) {
		return
	}
	d.cancel()
	d.wg.Wait()
}

func (d *Daemon) run() {
	defer d.wg.Done()

	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	log.Info("daemon started", zap.String("name", d.name), zap.Duration("interval", d.interval))
	for {
		select {
		case <-timer.C:
		case <-d.ctx.Done():
			log.Info("daemon has been stopped", zap.String("name", d.name))
			return
		}
		d.RunOnce(d.ctx)
		timer.Reset(d.interval)
	}
}

// RunOnce runs a single cycle in the calling goroutine, swallowing its error
// or panic.
func (d *Daemon) RunOnce(ctx context.Context) {
	defer d.rounds.Inc()
	defer func() {
		if r := recover(); r != nil {
			log.Error("daemon cycle panic",
				zap.String("name", d.name),
				zap.Reflect("recover", r),
				zap.Stack("stack"))
		}
	}()
	if err := d.cycle(ctx); err != nil {
		log.Error("daemon cycle failed", zap.String("name", d.name), zap.Error(errors.WithStack(err)))
	}
}
