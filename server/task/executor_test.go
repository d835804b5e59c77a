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
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinypublish/pkg/apiutil"
	"github.com/pingcap-incubator/tinypublish/pkg/testutil"
	"github.com/pingcap-incubator/tinypublish/server/cluster"
	"github.com/pingcap-incubator/tinypublish/server/core"
	. "github.com/pingcap/check"
	"github.com/pkg/errors"
)

var _ = Suite(&testExecutorSuite{})

type testExecutorSuite struct{}

type mockNodes map[uint64]*cluster.NodeInfo

func (m mockNodes) GetNode(nodeID uint64) (*cluster.NodeInfo, error) {
	node, ok := m[nodeID]
	if !ok {
		return nil, core.NodeNotFoundErr{NodeID: nodeID}
	}
	return node, nil
}

type mockClient struct {
	sync.Mutex
	requests map[string][]*PublishVersionRequest
	failAddr string
}

func newMockClient() *mockClient {
	return &mockClient{requests: make(map[string][]*PublishVersionRequest)}
}

func (m *mockClient) PublishVersion(ctx context.Context, addr string, req *PublishVersionRequest) error {
	m.Lock()
	defer m.Unlock()
	if addr == m.failAddr {
		return errors.New("connection refused")
	}
	m.requests[addr] = append(m.requests[addr], req)
	return nil
}

func (m *mockClient) count(addr string) int {
	m.Lock()
	defer m.Unlock()
	return len(m.requests[addr])
}

func (s *testExecutorSuite) TestDeliver(c *C) {
	nodes := mockNodes{
		1: {ID: 1, Addr: "n1", Version: "1.1.0", State: cluster.NodeStateUp},
		2: {ID: 2, Addr: "n2", Version: "1.0.0", State: cluster.NodeStateUp},
		3: {ID: 3, Addr: "n3", Version: "1.1.0", State: cluster.NodeStateUp},
	}
	client := newMockClient()
	client.failAddr = "n3"
	e := NewExecutor(client, nodes, ExecutorConfig{Concurrency: 2, NodeSendRate: 1000})
	e.Start(context.Background())
	defer e.Stop()

	batch := NewBatchTask()
	t11, t12 := newTestTask(1, 7), newTestTask(1, 8)
	t21, t22 := newTestTask(2, 7), newTestTask(2, 8)
	t3, t4 := newTestTask(3, 7), newTestTask(4, 7)
	for _, t := range []*PublishVersionTask{t11, t12, t21, t22, t3, t4} {
		batch.AddTask(t)
	}
	e.Submit(batch)

	testutil.WaitUntil(c, func(c *C) bool {
		return t11.State() == StateDispatched && t12.State() == StateDispatched &&
			t21.State() == StateDispatched && t22.State() == StateDispatched
	})
	// node 1 supports batching, node 2 gets one request per task.
	c.Assert(client.count("n1"), Equals, 1)
	c.Assert(client.count("n2"), Equals, 2)
	c.Assert(client.requests["n1"][0].Tasks, HasLen, 2)
	c.Assert(client.requests["n1"][0].Tasks[0].PartitionVersionInfos[0].VersionHash, Equals, int64(77))

	// failed and unknown nodes are not retried and stay pending.
	c.Assert(t3.State(), Equals, StatePending)
	c.Assert(t4.State(), Equals, StatePending)
}

func (s *testExecutorSuite) TestSubmitBeforeStart(c *C) {
	client := newMockClient()
	e := NewExecutor(client, mockNodes{}, ExecutorConfig{Concurrency: 1})
	batch := NewBatchTask()
	batch.AddTask(newTestTask(1, 7))
	e.Submit(batch)
	e.Stop()
	c.Assert(client.count("n1"), Equals, 0)
}

func (s *testExecutorSuite) TestHTTPNodeClient(c *C) {
	var mu sync.Mutex
	var received PublishVersionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PublishVersionPath {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err := apiutil.ReadJSON(r.Body, &received); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPNodeClient(time.Second)
	req := &PublishVersionRequest{Tasks: []*PublishVersionTaskRequest{newPublishVersionTaskRequest(newTestTask(1, 7))}}
	c.Assert(client.PublishVersion(context.Background(), srv.URL, req), IsNil)
	mu.Lock()
	c.Assert(received.Tasks, HasLen, 1)
	c.Assert(received.Tasks[0].TransactionID, Equals, uint64(7))
	c.Assert(received.Tasks[0].PartitionVersionInfos, HasLen, 2)
	mu.Unlock()

	err := client.PublishVersion(context.Background(), srv.URL+"/other", req)
	c.Assert(err, NotNil)
}

func (s *testExecutorSuite) TestNodeURL(c *C) {
	c.Assert(nodeURL("127.0.0.1:8040", PublishVersionPath), Equals, "http://127.0.0.1:8040/api/v1/publish_version")
	c.Assert(nodeURL("https://n1/", PublishVersionPath), Equals, "https://n1/api/v1/publish_version")
}
