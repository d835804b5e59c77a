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

package testutil

import (
	"time"

	check "github.com/pingcap/check"
)

const (
	defaultWaitRetryTimes = 200
	defaultWaitSleep      = time.Millisecond * 20
)

// CheckFunc is a condition checker that passed to WaitUntil. Its implementation
// may call c.Fatal() to abort the test, or c.Log() to add more information.
type CheckFunc func(c *check.C) bool

// WaitOp represents available options when execute WaitUntil.
type WaitOp struct {
	retryTimes    int
	sleepInterval time.Duration
}

// WaitOption configures WaitOp.
type WaitOption func(op *WaitOp)

// WithRetryTimes specifies the retry times.
func WithRetryTimes(retryTimes int) WaitOption {
	return func(op *WaitOp) { op.retryTimes = retryTimes }
}

// WithSleepInterval specifies the sleep duration between two checks.
func WithSleepInterval(sleep time.Duration) WaitOption {
	return func(op *WaitOp) { op.sleepInterval = sleep }
}

// WaitUntil repeatedly evaluates f() for a period of time, until it returns true.
func WaitUntil(c *check.C, f CheckFunc, opts ...WaitOption) {
	op := &WaitOp{
		retryTimes:    defaultWaitRetryTimes,
		sleepInterval: defaultWaitSleep,
	}
	for _, opt := range opts {
		opt(op)
	}
	for i := 0; i < op.retryTimes; i++ {
		if f(c) {
			return
		}
		time.Sleep(op.sleepInterval)
	}
	c.Fatal("wait timeout")
}
