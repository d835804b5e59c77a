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

package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/ratelimit"
	"github.com/pingcap-incubator/tinypublish/pkg/worker"
	"github.com/pingcap-incubator/tinypublish/server/cluster"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// NodeResolver looks up the address and version of a node.
type NodeResolver interface {
	GetNode(nodeID uint64) (*cluster.NodeInfo, error)
}

// ExecutorConfig is the delivery settings of an Executor.
type ExecutorConfig struct {
	Concurrency  int
	NodeSendRate float64
	SendTimeout  time.Duration
}

type delivery struct {
	nodeID uint64
	tasks  []AgentTask
}

// Executor delivers submitted batches to the nodes in the background. Each
// node is served by one worker, so the requests of a node keep their order.
// A failed delivery is logged and not retried.
type Executor struct {
	cfg     ExecutorConfig
	client  NodeClient
	nodes   NodeResolver
	workers []*worker.Worker
	wg      sync.WaitGroup

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	limitsMu sync.Mutex
	limits   map[uint64]*ratelimit.Bucket
}

// NewExecutor creates an Executor. It accepts batches after Start.
func NewExecutor(client NodeClient, nodes NodeResolver, cfg ExecutorConfig) *Executor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	e := &Executor{
		cfg:    cfg,
		client: client,
		nodes:  nodes,
		limits: make(map[uint64]*ratelimit.Bucket),
	}
	for i := 0; i < cfg.Concurrency; i++ {
		e.workers = append(e.workers, worker.NewWorker(fmt.Sprintf("task-executor-%d", i), &e.wg))
	}
	return e
}

// Start starts the delivery workers.
func (e *Executor) Start(ctx context.Context) {
	if !e.running.CAS(false, true) {
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	for _, w := range e.workers {
		w.Start(e)
	}
}

// Stop cancels in-flight deliveries and waits for the workers to exit.
func (e *Executor) Stop() {
	if !e.running.CAS(true, false) {
		return
	}
	e.cancel()
	for _, w := range e.workers {
		w.Stop()
	}
	e.wg.Wait()
}

// Submit hands the batch to the workers and returns at once.
func (e *Executor) Submit(batch *BatchTask) {
	if !e.running.Load() {
		log.Warn("executor is not running, drop batch", zap.Int("tasks", batch.TaskNum()))
		deliveryCounter.WithLabelValues("dropped").Add(float64(batch.TaskNum()))
		return
	}
	for _, nodeID := range batch.NodeIDs() {
		d := &delivery{nodeID: nodeID, tasks: batch.Tasks(nodeID)}
		w := e.workers[nodeID%uint64(len(e.workers))]
		select {
		case w.Sender() <- d:
		default:
			log.Warn("executor worker is busy, drop delivery",
				zap.String("worker", w.Name()),
				zap.Uint64("node-id", nodeID),
				zap.Int("tasks", len(d.tasks)))
			deliveryCounter.WithLabelValues("dropped").Add(float64(len(d.tasks)))
		}
	}
}

// Handle implements worker.TaskHandler.
func (e *Executor) Handle(t worker.Task) {
	d, ok := t.(*delivery)
	if !ok {
		log.Error("unexpected executor task", zap.Reflect("task", t))
		return
	}
	e.deliver(d)
}

func (e *Executor) deliver(d *delivery) {
	var tasks []*PublishVersionTask
	for _, t := range d.tasks {
		pt, ok := t.(*PublishVersionTask)
		if !ok {
			log.Warn("executor cannot deliver task",
				zap.Uint64("node-id", d.nodeID),
				zap.Stringer("type", t.Type()))
			continue
		}
		tasks = append(tasks, pt)
	}
	if len(tasks) == 0 {
		return
	}

	node, err := e.nodes.GetNode(d.nodeID)
	if err != nil || node.IsTombstone() {
		log.Warn("cannot resolve node, skip delivery",
			zap.Uint64("node-id", d.nodeID),
			zap.Int("tasks", len(tasks)),
			zap.Error(err))
		deliveryCounter.WithLabelValues("skipped").Add(float64(len(tasks)))
		return
	}

	if !e.waitLimit(d.nodeID, len(tasks)) {
		return
	}

	if node.Supports(cluster.BatchPublish) {
		e.send(node, tasks)
		return
	}
	for _, t := range tasks {
		e.send(node, []*PublishVersionTask{t})
	}
}

func (e *Executor) send(node *cluster.NodeInfo, tasks []*PublishVersionTask) {
	req := &PublishVersionRequest{Tasks: make([]*PublishVersionTaskRequest, 0, len(tasks))}
	for _, t := range tasks {
		req.Tasks = append(req.Tasks, newPublishVersionTaskRequest(t))
	}

	ctx := e.ctx
	if e.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(e.ctx, e.cfg.SendTimeout)
		defer cancel()
	}
	start := time.Now()
	err := e.client.PublishVersion(ctx, node.Addr, req)
	deliveryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("failed to deliver publish version tasks",
			zap.Uint64("node-id", node.ID),
			zap.String("addr", node.Addr),
			zap.Int("tasks", len(tasks)),
			zap.Error(err))
		deliveryCounter.WithLabelValues("failed").Add(float64(len(tasks)))
		return
	}
	for _, t := range tasks {
		t.MarkDispatched()
	}
	deliveryCounter.WithLabelValues("ok").Add(float64(len(tasks)))
	log.Debug("publish version tasks delivered",
		zap.Uint64("node-id", node.ID),
		zap.Int("tasks", len(tasks)))
}

// waitLimit takes count tokens from the node's bucket. It returns false if
// the executor stopped while waiting.
func (e *Executor) waitLimit(nodeID uint64, count int) bool {
	if e.cfg.NodeSendRate <= 0 {
		return true
	}
	wait := e.getOrCreateNodeLimit(nodeID).Take(int64(count))
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (e *Executor) getOrCreateNodeLimit(nodeID uint64) *ratelimit.Bucket {
	e.limitsMu.Lock()
	defer e.limitsMu.Unlock()
	if e.limits[nodeID] == nil {
		capacity := int64(e.cfg.NodeSendRate)
		if capacity < 1 {
			capacity = 1
		}
		e.limits[nodeID] = ratelimit.NewBucketWithRate(e.cfg.NodeSendRate, capacity)
	}
	return e.limits[nodeID]
}
