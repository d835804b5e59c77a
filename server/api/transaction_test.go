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

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/pingcap-incubator/tinypublish/pkg/testutil"
	"github.com/pingcap-incubator/tinypublish/pkg/typeutil"
	"github.com/pingcap-incubator/tinypublish/server"
	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pingcap-incubator/tinypublish/server/index"
	"github.com/pingcap-incubator/tinypublish/server/task"
	"github.com/pingcap-incubator/tinypublish/server/txn"
	. "github.com/pingcap/check"
)

var _ = Suite(&testTransactionSuite{})

type testTransactionSuite struct {
	svr       *server.Server
	cleanup   server.CleanupFunc
	urlPrefix string
	node      *httptest.Server
}

// reportingNode acts as every storage node. It reports each received task
// finished through the finish API, with tablet 101 failed on node 2.
func (s *testTransactionSuite) reportingNode(w http.ResponseWriter, r *http.Request) {
	var req task.PublishVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	for _, t := range req.Tasks {
		report := &task.FinishRequest{
			NodeID:    t.NodeID,
			TaskType:  task.TypePublishVersion,
			Signature: t.Signature,
		}
		if t.NodeID == 2 {
			report.ErrorTabletIDs = []uint64{101}
		}
		data, _ := json.Marshal(report)
		resp, err := http.Post(s.urlPrefix+"/tasks/finish", "application/json", bytes.NewBuffer(data))
		if err == nil {
			resp.Body.Close()
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (s *testTransactionSuite) SetUpSuite(c *C) {
	s.svr, s.cleanup = mustNewServer(c)
	s.urlPrefix = fmt.Sprintf("%s%s/api/v1", s.svr.GetAddr(), apiPrefix)
	s.node = httptest.NewServer(http.HandlerFunc(s.reportingNode))

	for nodeID := uint64(1); nodeID <= 3; nodeID++ {
		url := fmt.Sprintf("%s/node/%d/heartbeat", s.urlPrefix, nodeID)
		mustDo(c, "POST", url, &HeartbeatRequest{Addr: s.node.URL, Version: "1.1.0"}, http.StatusOK, nil)
	}
	partition := &index.PartitionMeta{ID: 10, TableID: 1, DBID: 100, ReplicationNum: 3}
	mustDo(c, "POST", s.urlPrefix+"/partitions", partition, http.StatusOK, nil)
	mustDo(c, "POST", s.urlPrefix+"/tablets", &CreateTabletRequest{TabletID: 101, PartitionID: 10}, http.StatusOK, nil)
	for nodeID := uint64(1); nodeID <= 3; nodeID++ {
		replica := &AddReplicaRequest{ReplicaID: 1010 + nodeID, NodeID: nodeID}
		mustDo(c, "POST", s.urlPrefix+"/tablet/101/replicas", replica, http.StatusOK, nil)
	}
}

func (s *testTransactionSuite) TearDownSuite(c *C) {
	s.node.Close()
	s.cleanup()
}

func (s *testTransactionSuite) begin(c *C, label string) *txn.Info {
	info := &txn.Info{}
	req := &BeginRequest{DBID: 100, Label: label, Timeout: typeutil.NewDuration(10 * time.Second)}
	mustDo(c, "POST", s.urlPrefix+"/transactions", req, http.StatusOK, info)
	c.Assert(info.Status, Equals, core.TransactionStatusPrepare)
	c.Assert(info.Label, Equals, label)
	return info
}

func (s *testTransactionSuite) TestPublish(c *C) {
	info := s.begin(c, "publish")
	url := fmt.Sprintf("%s/transaction/%d", s.urlPrefix, info.TxnID)

	commit := &CommitRequest{Tables: map[uint64][]uint64{1: {10}}}
	mustDo(c, "POST", url+"/commit", commit, http.StatusOK, info)
	c.Assert(info.Status, Equals, core.TransactionStatusCommitted)
	partition := info.CommitInfos[1].Partitions[10]
	c.Assert(partition, NotNil)

	testutil.WaitUntil(c, func(c *C) bool {
		mustDo(c, "GET", url, nil, http.StatusOK, info)
		return info.Status == core.TransactionStatusVisible
	})
	c.Assert(info.ErrorReplicaIDs, DeepEquals, []uint64{1012})

	p := &PartitionInfo{}
	mustDo(c, "GET", s.urlPrefix+"/partition/10", nil, http.StatusOK, p)
	c.Assert(p.VisibleVersion, Equals, partition.Version)
	c.Assert(p.TabletIDs, DeepEquals, []uint64{101})

	tablet := &TabletInfo{}
	mustDo(c, "GET", s.urlPrefix+"/tablet/101", nil, http.StatusOK, tablet)
	c.Assert(tablet.Replicas, HasLen, 3)
	for _, r := range tablet.Replicas {
		if r.ID == 1012 {
			c.Assert(r.NeedRepair(), IsTrue)
		} else {
			c.Assert(r.Version, Equals, partition.Version)
		}
	}

	replica := &core.Replica{}
	mustDo(c, "GET", s.urlPrefix+"/replica/1012", nil, http.StatusOK, replica)
	c.Assert(replica.TabletID, Equals, uint64(101))
	c.Assert(replica.LastFailedVersion, Equals, partition.Version)
	resp := doJSON(c, "GET", s.urlPrefix+"/replica/9999", nil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, Equals, http.StatusNotFound)
	c.Assert(resp.Header.Get("Publish-Error-Code"), Equals, "missing.replica")

	// Committing again is rejected.
	mustDo(c, "POST", url+"/commit", commit, http.StatusBadRequest, nil)

	txns := &TransactionsInfo{}
	mustDo(c, "GET", s.urlPrefix+"/transactions?status=visible", nil, http.StatusOK, txns)
	c.Assert(txns.Count, Equals, 1)
	c.Assert(txns.Transactions[0].TxnID, Equals, info.TxnID)

	testutil.WaitUntil(c, func(c *C) bool {
		tasks := &TasksInfo{}
		mustDo(c, "GET", s.urlPrefix+"/tasks", nil, http.StatusOK, tasks)
		return tasks.Count == 0
	})
}

func (s *testTransactionSuite) TestAbort(c *C) {
	info := s.begin(c, "abort")
	url := fmt.Sprintf("%s/transaction/%d", s.urlPrefix, info.TxnID)

	mustDo(c, "POST", url+"/abort", &AbortRequest{Reason: "user cancel"}, http.StatusOK, nil)
	mustDo(c, "GET", url, nil, http.StatusOK, info)
	c.Assert(info.Status, Equals, core.TransactionStatusAborted)
	c.Assert(info.Reason, Equals, "user cancel")

	// The label is released.
	s.begin(c, "abort")
	mustDo(c, "POST", url+"/abort", &AbortRequest{}, http.StatusBadRequest, nil)
}

func (s *testTransactionSuite) TestErrors(c *C) {
	resp := doJSON(c, "GET", s.urlPrefix+"/transaction/999", nil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, Equals, http.StatusNotFound)
	c.Assert(resp.Header.Get("Publish-Error-Code"), Equals, "missing.txn")

	mustDo(c, "GET", s.urlPrefix+"/transaction/abc", nil, http.StatusBadRequest, nil)
	mustDo(c, "GET", s.urlPrefix+"/transactions?status=nope", nil, http.StatusBadRequest, nil)
	mustDo(c, "POST", s.urlPrefix+"/transactions", &BeginRequest{DBID: 100}, http.StatusBadRequest, nil)

	s.begin(c, "duplicated")
	mustDo(c, "POST", s.urlPrefix+"/transactions", &BeginRequest{DBID: 100, Label: "duplicated"}, http.StatusConflict, nil)

	info := s.begin(c, "bad-partition")
	url := fmt.Sprintf("%s/transaction/%d/commit", s.urlPrefix, info.TxnID)
	mustDo(c, "POST", url, &CommitRequest{Tables: map[uint64][]uint64{1: {99}}}, http.StatusNotFound, nil)
	mustDo(c, "POST", url, &CommitRequest{Tables: map[uint64][]uint64{2: {10}}}, http.StatusBadRequest, nil)
	mustDo(c, "POST", url, &CommitRequest{}, http.StatusBadRequest, nil)
	mustDo(c, "POST", url, &CommitRequest{Tables: map[uint64][]uint64{1: {10, 10}}}, http.StatusBadRequest, nil)
	mustDo(c, "GET", url[:len(url)-len("/commit")], nil, http.StatusOK, info)
	c.Assert(info.Status, Equals, core.TransactionStatusPrepare)

	report := &task.FinishRequest{NodeID: 1, TaskType: task.TypePublishVersion, Signature: 12345}
	mustDo(c, "POST", s.urlPrefix+"/tasks/finish", report, http.StatusNotFound, nil)
	mustDo(c, "GET", s.urlPrefix+"/tasks?node_id=x", nil, http.StatusBadRequest, nil)

	mustDo(c, "POST", s.urlPrefix+"/partitions", &index.PartitionMeta{ID: 10, TableID: 1, DBID: 100, ReplicationNum: 3}, http.StatusBadRequest, nil)
	mustDo(c, "GET", s.urlPrefix+"/partition/99", nil, http.StatusNotFound, nil)
	mustDo(c, "POST", s.urlPrefix+"/tablets", &CreateTabletRequest{TabletID: 901, PartitionID: 99}, http.StatusNotFound, nil)
	mustDo(c, "POST", s.urlPrefix+"/tablet/101/replicas", &AddReplicaRequest{ReplicaID: 1011, NodeID: 4}, http.StatusBadRequest, nil)
}
