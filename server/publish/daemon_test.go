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

package publish

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pingcap-incubator/tinypublish/pkg/testutil"
	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap-incubator/tinypublish/server/index"
	"github.com/pingcap-incubator/tinypublish/server/kv"
	"github.com/pingcap-incubator/tinypublish/server/task"
	"github.com/pingcap-incubator/tinypublish/server/txn"
	. "github.com/pingcap/check"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPublish(t *testing.T) {
	TestingT(t)
}

var _ = Suite(&testPublishSuite{})

const (
	testInterval = 10 * time.Second
	testTimeout  = 30 * time.Second
)

type finishCall struct {
	txnID      uint64
	replicaIDs map[uint64]struct{}
}

type recordingTxns struct {
	*txn.Manager
	sync.Mutex
	calls []finishCall
}

func (r *recordingTxns) FinishTransaction(txnID uint64, errorReplicaIDs map[uint64]struct{}) error {
	r.Lock()
	r.calls = append(r.calls, finishCall{txnID: txnID, replicaIDs: errorReplicaIDs})
	r.Unlock()
	return r.Manager.FinishTransaction(txnID, errorReplicaIDs)
}

func (r *recordingTxns) callCount() int {
	r.Lock()
	defer r.Unlock()
	return len(r.calls)
}

type mockNodes []uint64

func (m mockNodes) GetNodeIDs(includeDead bool) []uint64 { return m }

type mockExecutor struct {
	sync.Mutex
	batches []*task.BatchTask
}

func (m *mockExecutor) Submit(batch *task.BatchTask) {
	m.Lock()
	defer m.Unlock()
	m.batches = append(m.batches, batch)
}

type testPublishSuite struct {
	idx      *index.TabletInvertedIndex
	txns     *recordingTxns
	queue    *task.Queue
	executor *mockExecutor
	audit    *observer.ObservedLogs
	now      time.Time
	d        *Daemon
}

// Partition 10 (3 replicas) has tablets 101 and 102 on nodes 1, 2 and 3.
// Partition 20 has tablet 201 on node 3 only. Replica id is tablet*10+node.
func (s *testPublishSuite) SetUpTest(c *C) {
	storage := core.NewStorage(kv.NewMemoryKV())
	s.idx = index.NewTabletInvertedIndex(storage)
	c.Assert(s.idx.AddPartition(index.PartitionMeta{ID: 10, TableID: 1, DBID: 100, ReplicationNum: 3}), IsNil)
	c.Assert(s.idx.AddPartition(index.PartitionMeta{ID: 20, TableID: 2, DBID: 100, ReplicationNum: 1}), IsNil)
	for _, tabletID := range []uint64{101, 102} {
		c.Assert(s.idx.AddTablet(tabletID, 10), IsNil)
		for nodeID := uint64(1); nodeID <= 3; nodeID++ {
			c.Assert(s.idx.AddReplica(&core.Replica{ID: tabletID*10 + nodeID, TabletID: tabletID, NodeID: nodeID}), IsNil)
		}
	}
	c.Assert(s.idx.AddTablet(201, 20), IsNil)
	c.Assert(s.idx.AddReplica(&core.Replica{ID: 2013, TabletID: 201, NodeID: 3}), IsNil)

	s.txns = &recordingTxns{Manager: txn.NewManager(storage, s.idx, testTimeout)}
	s.queue = task.NewQueue()
	s.executor = &mockExecutor{}
	auditCore, logs := observer.New(zap.InfoLevel)
	s.audit = logs
	s.now = time.Unix(10000, 0)
	s.d = s.newDaemon(mockNodes{1, 2, 3}, zap.New(auditCore))
}

func (s *testPublishSuite) newDaemon(nodes Membership, audit *zap.Logger) *Daemon {
	return NewDaemon(testInterval, s.txns, s.idx, nodes, s.queue, s.executor,
		WithAuditLogger(audit),
		WithClock(func() time.Time { return s.now }))
}

func (s *testPublishSuite) commit(c *C, label string, partitions map[uint64][]uint64) *txn.TransactionState {
	t, err := s.txns.BeginTransaction(100, label, 0)
	c.Assert(err, IsNil)
	c.Assert(s.txns.CommitTransaction(t.ID(), partitions), IsNil)
	return t
}

func (s *testPublishSuite) runCycle(c *C) {
	c.Assert(s.d.publishVersion(context.Background()), IsNil)
}

func (s *testPublishSuite) finish(c *C, nodeID uint64, t *txn.TransactionState, errorTablets ...uint64) {
	c.Assert(s.queue.FinishTask(nodeID, task.TypePublishVersion, t.ID(), errorTablets), IsNil)
}

func (s *testPublishSuite) TestDispatchOnce(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	s.runCycle(c)
	c.Assert(t.HasSendTask(), IsTrue)
	c.Assert(s.executor.batches, HasLen, 1)
	c.Assert(s.executor.batches[0].TaskNum(), Equals, 3)
	c.Assert(s.queue.TaskNum(), Equals, 3)
	c.Assert(t.NodeIDsWithTask(), DeepEquals, []uint64{1, 2, 3})

	pt := t.PublishVersionTasks()[2]
	c.Assert(pt.VersionInfos(), HasLen, 1)
	c.Assert(pt.VersionInfos()[0].PartitionID, Equals, uint64(10))
	c.Assert(pt.VersionInfos()[0].Version, Equals, uint64(2))
	c.Assert(pt.DBID(), Equals, uint64(100))

	s.d.dispatch(s.txns.GetReadyToPublishTransactions(), []uint64{1, 2, 3, 4})
	s.runCycle(c)
	c.Assert(s.executor.batches, HasLen, 1)
	c.Assert(s.queue.TaskNum(), Equals, 3)
	c.Assert(t.PublishVersionTasks()[2], Equals, pt)
}

func (s *testPublishSuite) TestOneBatchPerCycle(c *C) {
	s.commit(c, "a", map[uint64][]uint64{1: {10}})
	s.commit(c, "b", map[uint64][]uint64{2: {20}})
	s.runCycle(c)
	c.Assert(s.executor.batches, HasLen, 1)
	c.Assert(s.executor.batches[0].TaskNum(), Equals, 6)
	c.Assert(s.executor.batches[0].Tasks(3), HasLen, 2)
}

func (s *testPublishSuite) TestNoNodes(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	s.d = s.newDaemon(mockNodes{}, zap.NewNop())
	s.runCycle(c)
	s.runCycle(c)
	c.Assert(t.HasSendTask(), IsFalse)
	c.Assert(s.executor.batches, HasLen, 0)
	c.Assert(s.queue.TaskNum(), Equals, 0)
}

func (s *testPublishSuite) TestAllFinishedWithoutErrors(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	s.runCycle(c)
	for nodeID := uint64(1); nodeID <= 3; nodeID++ {
		s.finish(c, nodeID, t)
	}
	s.now = s.now.Add(2 * testInterval)
	s.runCycle(c)

	c.Assert(s.txns.calls, HasLen, 1)
	c.Assert(s.txns.calls[0].txnID, Equals, t.ID())
	c.Assert(s.txns.calls[0].replicaIDs, HasLen, 0)
	c.Assert(t.Status(), Equals, core.TransactionStatusVisible)
	c.Assert(s.audit.Len(), Equals, 0)
}

func (s *testPublishSuite) TestGracePeriod(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	s.runCycle(c)
	for nodeID := uint64(1); nodeID <= 3; nodeID++ {
		s.finish(c, nodeID, t)
	}
	s.now = s.now.Add(testInterval)
	s.runCycle(c)
	s.now = s.now.Add(testInterval - time.Millisecond)
	s.runCycle(c)
	c.Assert(s.txns.callCount(), Equals, 0)
	c.Assert(t.Status(), Equals, core.TransactionStatusCommitted)

	s.now = s.now.Add(time.Millisecond)
	s.runCycle(c)
	c.Assert(s.txns.callCount(), Equals, 1)
}

// Node 3 never answers and the deadline passes: the error set is exactly the
// replicas node 3 holds for partition 10.
func (s *testPublishSuite) TestTimeoutEscalation(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	s.runCycle(c)
	s.finish(c, 1, t)
	s.finish(c, 2, t)

	s.now = s.now.Add(2 * testInterval)
	s.runCycle(c)
	c.Assert(s.txns.callCount(), Equals, 0)

	s.now = s.now.Add(testTimeout)
	s.runCycle(c)
	c.Assert(s.txns.calls, HasLen, 1)
	c.Assert(s.txns.calls[0].replicaIDs, DeepEquals, map[uint64]struct{}{1013: {}, 1023: {}})
	c.Assert(t.Status(), Equals, core.TransactionStatusVisible)
	c.Assert(t.ErrorReplicaIDs(), DeepEquals, []uint64{1013, 1023})
	c.Assert(s.idx.GetReplica(101, 3).NeedRepair(), IsTrue)
	c.Assert(s.idx.GetReplica(201, 3).NeedRepair(), IsFalse)

	s.now = s.now.Add(10 * testInterval)
	s.runCycle(c)
	c.Assert(s.txns.callCount(), Equals, 1)

	c.Assert(s.audit.Len(), Equals, 1)
	fields := s.audit.All()[0].ContextMap()
	c.Assert(fields["txn-id"], Equals, t.ID())
}

// Node 1 reports error tablets 101 and 102.
func (s *testPublishSuite) TestReportedErrorTablets(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	s.runCycle(c)
	s.finish(c, 1, t, 101, 102)
	s.finish(c, 2, t)
	s.finish(c, 3, t)

	s.now = s.now.Add(2 * testInterval)
	s.runCycle(c)
	c.Assert(s.txns.calls, HasLen, 1)
	c.Assert(s.txns.calls[0].replicaIDs, DeepEquals, map[uint64]struct{}{1011: {}, 1021: {}})
	c.Assert(t.Status(), Equals, core.TransactionStatusVisible)
}

func (s *testPublishSuite) TestUnknownErrorTabletIgnored(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{2: {20}})
	s.runCycle(c)
	s.finish(c, 1, t, 201)
	s.finish(c, 2, t)
	s.finish(c, 3, t)

	s.now = s.now.Add(2 * testInterval)
	s.runCycle(c)
	c.Assert(s.txns.calls, HasLen, 1)
	c.Assert(s.txns.calls[0].replicaIDs, HasLen, 0)
}

func (s *testPublishSuite) TestCleanupVisible(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	other := s.commit(c, "b", map[uint64][]uint64{2: {20}})
	s.runCycle(c)
	c.Assert(s.queue.TaskNum(), Equals, 6)
	for nodeID := uint64(1); nodeID <= 3; nodeID++ {
		s.finish(c, nodeID, t)
	}

	s.now = s.now.Add(2 * testInterval)
	s.runCycle(c)
	c.Assert(t.Status(), Equals, core.TransactionStatusVisible)
	c.Assert(other.Status(), Equals, core.TransactionStatusCommitted)
	c.Assert(s.queue.TaskNum(), Equals, 3)
	for nodeID := uint64(1); nodeID <= 3; nodeID++ {
		c.Assert(s.queue.GetTask(nodeID, task.TypePublishVersion, t.ID()), IsNil)
		c.Assert(s.queue.GetTask(nodeID, task.TypePublishVersion, other.ID()), NotNil)
	}
}

// A finalize that does not reach VISIBLE is retried after two more intervals.
func (s *testPublishSuite) TestDeferredFinalize(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	s.runCycle(c)
	s.finish(c, 1, t)
	s.finish(c, 2, t, 101)
	s.finish(c, 3, t, 101)

	s.now = s.now.Add(2 * testInterval)
	s.runCycle(c)
	c.Assert(s.txns.callCount(), Equals, 1)
	c.Assert(t.Status(), Equals, core.TransactionStatusCommitted)
	c.Assert(t.PublishTime().Equal(s.now), IsTrue)
	c.Assert(s.queue.TaskNum(), Equals, 3)

	s.now = s.now.Add(testInterval)
	s.runCycle(c)
	c.Assert(s.txns.callCount(), Equals, 1)

	s.now = s.now.Add(testInterval)
	s.runCycle(c)
	c.Assert(s.txns.callCount(), Equals, 2)
}

// The publish deadline is fixed at the first dispatch, deferrals do not
// extend it.
func (s *testPublishSuite) TestDeadlineFixed(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	s.runCycle(c)
	deadline := t.PublishDeadline()
	c.Assert(deadline.Equal(s.now.Add(testTimeout)), IsTrue)

	s.finish(c, 1, t, 101)
	s.finish(c, 2, t, 101)
	s.now = s.now.Add(2 * testInterval)
	s.runCycle(c)
	c.Assert(s.txns.callCount(), Equals, 0)
	c.Assert(t.PublishDeadline().Equal(deadline), IsTrue)

	s.now = deadline.Add(time.Second)
	s.runCycle(c)
	c.Assert(s.txns.calls, HasLen, 1)
	// tablet 101 has no healthy replica left.
	c.Assert(s.txns.calls[0].replicaIDs, DeepEquals, map[uint64]struct{}{1011: {}, 1012: {}, 1013: {}, 1023: {}})
	c.Assert(t.Status(), Equals, core.TransactionStatusCommitted)
	c.Assert(t.PublishDeadline().Equal(deadline), IsTrue)
}

// Tasks left from an interrupted run decide the publish targets.
func (s *testPublishSuite) TestRetargetPreviousNodes(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	old := task.NewPublishVersionTask(2, t.ID(), t.DBID(), nil)
	t.SetPublishVersionTask(old)
	s.queue.AddTask(old)

	s.runCycle(c)
	c.Assert(t.NodeIDsWithTask(), DeepEquals, []uint64{2})
	c.Assert(s.executor.batches, HasLen, 1)
	c.Assert(s.executor.batches[0].NodeIDs(), DeepEquals, []uint64{2})
	c.Assert(s.queue.TaskNum(), Equals, 1)
	pt := s.queue.GetTask(2, task.TypePublishVersion, t.ID())
	c.Assert(pt, Not(Equals), task.AgentTask(old))
	c.Assert(pt.(*task.PublishVersionTask).VersionInfos(), HasLen, 1)
}

func (s *testPublishSuite) TestDaemonLoop(c *C) {
	t := s.commit(c, "a", map[uint64][]uint64{1: {10}})
	d := NewDaemon(20*time.Millisecond, s.txns, s.idx, mockNodes{1, 2, 3}, s.queue, s.executor)
	d.Start(context.Background())
	defer d.Stop()

	testutil.WaitUntil(c, func(c *C) bool {
		return t.HasSendTask()
	})
	for nodeID := uint64(1); nodeID <= 3; nodeID++ {
		s.finish(c, nodeID, t)
	}
	testutil.WaitUntil(c, func(c *C) bool {
		return t.Status() == core.TransactionStatusVisible && s.queue.TaskNum() == 0
	})
	c.Assert(d.Rounds() > 0, IsTrue)
}
