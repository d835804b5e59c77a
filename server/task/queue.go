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
	"sort"
	"sync"

	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

type taskKey struct {
	typ       Type
	signature uint64
}

// Queue is the registry of outstanding tasks, indexed by node.
type Queue struct {
	sync.RWMutex
	tasks map[uint64]map[taskKey]AgentTask
	num   int
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{
		tasks: make(map[uint64]map[taskKey]AgentTask),
	}
}

// AddTask registers a task. It returns false if a task with the same node,
// type and signature is already outstanding.
func (q *Queue) AddTask(t AgentTask) bool {
	q.Lock()
	defer q.Unlock()
	byNode, ok := q.tasks[t.NodeID()]
	if !ok {
		byNode = make(map[taskKey]AgentTask)
		q.tasks[t.NodeID()] = byNode
	}
	key := taskKey{typ: t.Type(), signature: t.Signature()}
	if _, ok := byNode[key]; ok {
		return false
	}
	byNode[key] = t
	q.num++
	outstandingTaskGauge.WithLabelValues(t.Type().String()).Inc()
	return true
}

// RemoveTask unregisters a task, if present.
func (q *Queue) RemoveTask(nodeID uint64, typ Type, signature uint64) {
	q.Lock()
	defer q.Unlock()
	byNode, ok := q.tasks[nodeID]
	if !ok {
		return
	}
	key := taskKey{typ: typ, signature: signature}
	if _, ok := byNode[key]; !ok {
		return
	}
	delete(byNode, key)
	if len(byNode) == 0 {
		delete(q.tasks, nodeID)
	}
	q.num--
	outstandingTaskGauge.WithLabelValues(typ.String()).Dec()
}

// GetTask returns an outstanding task, nil if none.
func (q *Queue) GetTask(nodeID uint64, typ Type, signature uint64) AgentTask {
	q.RLock()
	defer q.RUnlock()
	return q.tasks[nodeID][taskKey{typ: typ, signature: signature}]
}

// GetTasks returns the outstanding tasks of a type for a node ordered by
// signature.
func (q *Queue) GetTasks(nodeID uint64, typ Type) []AgentTask {
	q.RLock()
	defer q.RUnlock()
	var res []AgentTask
	for key, t := range q.tasks[nodeID] {
		if key.typ == typ {
			res = append(res, t)
		}
	}
	sortTasks(res)
	return res
}

// GetAllTasks returns the outstanding tasks of a type for all nodes ordered
// by node then signature.
func (q *Queue) GetAllTasks(typ Type) []AgentTask {
	q.RLock()
	defer q.RUnlock()
	var res []AgentTask
	for _, byNode := range q.tasks {
		for key, t := range byNode {
			if key.typ == typ {
				res = append(res, t)
			}
		}
	}
	sortTasks(res)
	return res
}

// TaskNum returns the number of outstanding tasks.
func (q *Queue) TaskNum() int {
	q.RLock()
	defer q.RUnlock()
	return q.num
}

// FinishTask applies a node's completion report to an outstanding task.
func (q *Queue) FinishTask(nodeID uint64, typ Type, signature uint64, errorTablets []uint64) error {
	t := q.GetTask(nodeID, typ, signature)
	if t == nil {
		return core.TaskNotFoundErr{NodeID: nodeID, TaskType: typ.String(), Signature: signature}
	}
	f, ok := t.(Finisher)
	if !ok {
		return core.TaskNotFoundErr{NodeID: nodeID, TaskType: typ.String(), Signature: signature}
	}
	if !f.Finish(errorTablets) {
		log.Debug("duplicated task report",
			zap.Uint64("node-id", nodeID),
			zap.Stringer("type", typ),
			zap.Uint64("signature", signature))
		return nil
	}
	result := "ok"
	if len(errorTablets) > 0 {
		result = "error"
	}
	taskReportCounter.WithLabelValues(typ.String(), result).Inc()
	return nil
}

func sortTasks(tasks []AgentTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].NodeID() != tasks[j].NodeID() {
			return tasks[i].NodeID() < tasks[j].NodeID()
		}
		return tasks[i].Signature() < tasks[j].Signature()
	})
}
