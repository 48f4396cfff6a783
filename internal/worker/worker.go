// Copyright 2025 Docflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker runs the per-process step execution pool: a checkin
// heartbeat, a bounded token queue feeding consumer goroutines, and a
// reaper that reclaims steps from dead peers.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docflow/ingest/internal/config"
	"github.com/docflow/ingest/internal/engine"
	"github.com/docflow/ingest/internal/log"
	"github.com/docflow/ingest/internal/metrics"
	"github.com/docflow/ingest/internal/model"
	"github.com/docflow/ingest/internal/store"
)

// idleDelay is how long a consumer sleeps after finding no runnable step.
const idleDelay = 2 * time.Second

// failureBackoff is the pause after a handler failure, so a broken
// dependency does not spin the retry budget away instantly.
const failureBackoff = 2 * time.Second

// Pool is one process's worker pool.
type Pool struct {
	id      string
	cfg     *config.Config
	engine  *engine.Engine
	store   *store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	// leaseMu serialises select-and-lease across this pool's consumers so
	// they do not all race the same row.
	leaseMu sync.Mutex
	tokens  chan struct{}
}

// New builds a Pool with a fresh worker id.
func New(cfg *config.Config, eng *engine.Engine, st *store.Store, m *metrics.Metrics, logger *slog.Logger) *Pool {
	id := uuid.NewString()
	return &Pool{
		id:      id,
		cfg:     cfg,
		engine:  eng,
		store:   st,
		metrics: m,
		logger:  log.WithWorker(log.WithComponent(logger, "worker"), id),
		tokens:  make(chan struct{}, cfg.WorkerTaskCount),
	}
}

// ID returns the pool's worker id.
func (p *Pool) ID() string { return p.id }

// Run operates the pool until the context is cancelled. In-flight steps
// finish and commit their final state before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.store.UpsertWorkerCheckin(ctx, p.id, time.Now().UTC()); err != nil {
		return err
	}
	p.logger.Info("worker started", log.Int("task_count", p.cfg.WorkerTaskCount))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.checkinLoop(gctx) })
	g.Go(func() error { return p.produceLoop(gctx) })
	g.Go(func() error { return p.reapLoop(gctx) })
	for i := 0; i < p.cfg.WorkerTaskCount; i++ {
		g.Go(func() error { return p.consumeLoop(gctx) })
	}

	err := g.Wait()

	// Shutdown bookkeeping runs on a fresh context: the pool's own has
	// already been cancelled.
	cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if derr := p.store.DeleteWorkerCheckin(cleanupCtx, p.id); derr != nil {
		p.logger.Warn("failed to remove checkin on shutdown", log.Error(derr))
	}
	if released, rerr := p.store.ReleaseWorkerSteps(cleanupCtx, p.id); rerr != nil {
		p.logger.Warn("failed to release steps on shutdown", log.Error(rerr))
	} else if released > 0 {
		p.logger.Info("released steps on shutdown", log.Int64("steps", released))
	}

	p.logger.Info("worker stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// checkinLoop heartbeats the worker's checkin row.
func (p *Pool) checkinLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(p.cfg.WorkerCheckinInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.store.UpsertWorkerCheckin(ctx, p.id, time.Now().UTC()); err != nil {
				p.logger.Warn("checkin failed", log.Error(err))
			}
		}
	}
}

// produceLoop keeps the bounded token queue topped up.
func (p *Pool) produceLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.tokens <- struct{}{}:
			p.metrics.QueueDepth.Set(float64(len(p.tokens)))
		}
	}
}

// consumeLoop takes one token at a time and attempts one step.
func (p *Pool) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.tokens:
			p.metrics.QueueDepth.Set(float64(len(p.tokens)))
			p.runOne(ctx)
		}
	}
}

// runOne selects, leases and executes one step. Contention and an empty
// queue are normal outcomes, not errors.
func (p *Pool) runOne(ctx context.Context) {
	p.leaseMu.Lock()
	candidates, err := p.engine.GetRunnableSteps(ctx, 1, nil)
	if err != nil {
		p.leaseMu.Unlock()
		p.logger.Warn("failed to query runnable steps", log.Error(err))
		sleepCtx(ctx, idleDelay)
		return
	}
	if len(candidates) == 0 {
		p.leaseMu.Unlock()
		sleepCtx(ctx, idleDelay)
		return
	}
	stepID := candidates[0].ID
	_, err = p.engine.Lease(ctx, stepID, p.id)
	p.leaseMu.Unlock()

	if err != nil {
		if errors.Is(err, model.ErrStepOwned) || errors.Is(err, model.ErrInvalidState) {
			// Another worker won the race.
			p.metrics.LeasesLost.Inc()
			p.logger.Debug("lost lease race", log.Int64("step_id", stepID))
			return
		}
		p.logger.Warn("lease failed", log.Int64("step_id", stepID), log.Error(err))
		return
	}
	p.metrics.LeasesWon.Inc()

	// The handler commits its final state even when the pool is shutting
	// down: crash semantics stay at-least-once, clean shutdown loses
	// nothing.
	execCtx := context.WithoutCancel(ctx)
	start := time.Now()
	step, err := p.engine.ExecuteStep(execCtx, stepID, p.id)
	if err != nil {
		p.logger.Error("step execution failed", log.Int64("step_id", stepID), log.Error(err))
		return
	}
	p.metrics.StepDuration.WithLabelValues(string(step.StepType)).Observe(time.Since(start).Seconds())

	if step.Status == model.StatusCompleted {
		p.metrics.StepsExecuted.WithLabelValues(string(step.StepType)).Inc()
		return
	}
	p.metrics.StepsFailed.WithLabelValues(string(step.StepType)).Inc()
	sleepCtx(ctx, failureBackoff)
}

// reapLoop periodically reclaims steps held by workers that stopped
// checking in.
func (p *Pool) reapLoop(ctx context.Context) error {
	timeout := time.Duration(p.cfg.WorkerCheckinTimeout) * time.Second
	for {
		// Jitter so pools started together do not reap in lockstep.
		wait := timeout + time.Duration(rand.Int63n(int64(timeout/10)+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			if err := p.reapOnce(ctx); err != nil {
				p.logger.Warn("reaper pass failed", log.Error(err))
			}
		}
	}
}

// reapOnce finds stale checkins and releases their steps.
func (p *Pool) reapOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(p.cfg.WorkerCheckinTimeout) * time.Second)
	stale, err := p.store.ListStaleWorkers(ctx, cutoff)
	if err != nil {
		return err
	}

	for _, w := range stale {
		if w.ID == p.id {
			// Never reap ourselves: a long local pause must not kill
			// steps this process is still executing.
			continue
		}
		released, err := p.store.ReleaseWorkerSteps(ctx, w.ID)
		if err != nil {
			p.logger.Warn("failed to release dead worker's steps",
				log.String(log.WorkerIDKey, w.ID), log.Error(err))
			continue
		}
		if err := p.store.DeleteWorkerCheckin(ctx, w.ID); err != nil {
			p.logger.Warn("failed to delete dead worker's checkin",
				log.String(log.WorkerIDKey, w.ID), log.Error(err))
			continue
		}
		p.metrics.StepsReleased.Add(float64(released))
		p.logger.Info("reaped dead worker",
			log.String(log.WorkerIDKey, w.ID), log.Int64("steps_released", released))
	}

	live, err := p.store.ListWorkerCheckins(ctx)
	if err != nil {
		return err
	}
	p.metrics.LiveWorkers.Set(float64(len(live)))
	return nil
}

// sleepCtx waits for the delay or the context, whichever ends first.
func sleepCtx(ctx context.Context, delay time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}
