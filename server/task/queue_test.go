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
	"github.com/pingcap-incubator/tinypublish/server/core"
	. "github.com/pingcap/check"
)

var _ = Suite(&testQueueSuite{})

type testQueueSuite struct{}

func (s *testQueueSuite) TestAddRemove(c *C) {
	q := NewQueue()
	c.Assert(q.AddTask(newTestTask(1, 7)), IsTrue)
	c.Assert(q.AddTask(newTestTask(1, 7)), IsFalse)
	c.Assert(q.AddTask(newTestTask(1, 5)), IsTrue)
	c.Assert(q.AddTask(newTestTask(2, 7)), IsTrue)
	c.Assert(q.TaskNum(), Equals, 3)

	tasks := q.GetTasks(1, TypePublishVersion)
	c.Assert(tasks, HasLen, 2)
	c.Assert(tasks[0].Signature(), Equals, uint64(5))
	c.Assert(q.GetTasks(3, TypePublishVersion), HasLen, 0)
	c.Assert(q.GetAllTasks(TypePublishVersion), HasLen, 3)

	c.Assert(q.GetTask(2, TypePublishVersion, 7), NotNil)
	q.RemoveTask(2, TypePublishVersion, 7)
	q.RemoveTask(2, TypePublishVersion, 7)
	q.RemoveTask(9, TypePublishVersion, 7)
	c.Assert(q.GetTask(2, TypePublishVersion, 7), IsNil)
	c.Assert(q.TaskNum(), Equals, 2)
}

func (s *testQueueSuite) TestFinishTask(c *C) {
	q := NewQueue()
	t := newTestTask(1, 7)
	q.AddTask(t)

	c.Assert(q.FinishTask(1, TypePublishVersion, 7, []uint64{3}), IsNil)
	c.Assert(t.Snapshot().ErrorTablets, DeepEquals, []uint64{3})
	c.Assert(q.FinishTask(1, TypePublishVersion, 7, nil), IsNil)
	c.Assert(t.State(), Equals, StateFinishedWithErrors)

	err := q.FinishTask(1, TypePublishVersion, 8, nil)
	c.Assert(err, FitsTypeOf, core.TaskNotFoundErr{})
}

func (s *testQueueSuite) TestBatch(c *C) {
	b := NewBatchTask()
	b.AddTask(newTestTask(2, 7))
	b.AddTask(newTestTask(1, 7))
	b.AddTask(newTestTask(2, 8))
	c.Assert(b.TaskNum(), Equals, 3)
	c.Assert(b.NodeIDs(), DeepEquals, []uint64{1, 2})
	tasks := b.Tasks(2)
	c.Assert(tasks, HasLen, 2)
	c.Assert(tasks[1].Signature(), Equals, uint64(8))
}
