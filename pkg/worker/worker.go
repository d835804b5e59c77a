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

package worker

import (
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// TaskStop is the task to stop the worker.
type TaskStop struct{}

// Task is the unit of work handed to a worker.
type Task interface{}

// TaskHandler handles tasks in the worker goroutine.
type TaskHandler interface {
	Handle(t Task)
}

// Starter is implemented by handlers that need to run something in the
// worker goroutine before the first task.
type Starter interface {
	Start()
}

// Worker processes tasks one by one in a single goroutine, in the order they
// are sent.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup
}

// Start runs the worker goroutine with the given handler.
func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		log.Debug("worker started", zap.String("name", w.name))
		for {
			task := <-w.receiver
			if _, ok := task.(TaskStop); ok {
				log.Debug("worker stopped", zap.String("name", w.name))
				return
			}
			handler.Handle(task)
		}
	}()
}

// Name returns the name of the worker.
func (w *Worker) Name() string {
	return w.name
}

// Sender returns the channel to send tasks to the worker.
func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// Stop stops the worker after the tasks already sent are handled.
func (w *Worker) Stop() {
	w.sender <- TaskStop{}
}

const defaultWorkerCapacity = 128

// NewWorker creates a worker, the caller waits on wg for it to exit.
func NewWorker(name string, wg *sync.WaitGroup) *Worker {
	ch := make(chan Task, defaultWorkerCapacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		wg:       wg,
	}
}
