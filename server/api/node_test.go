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
	"fmt"
	"net/http"

	"github.com/pingcap-incubator/tinypublish/server"
	"github.com/pingcap-incubator/tinypublish/server/cluster"
	"github.com/pingcap-incubator/tinypublish/server/config"
	. "github.com/pingcap/check"
	"github.com/pingcap/log"
	"go.uber.org/zap/zapcore"
)

var _ = Suite(&testNodeSuite{})

type testNodeSuite struct {
	svr       *server.Server
	cleanup   server.CleanupFunc
	urlPrefix string
}

func (s *testNodeSuite) SetUpSuite(c *C) {
	s.svr, s.cleanup = mustNewServer(c)
	s.urlPrefix = fmt.Sprintf("%s%s/api/v1", s.svr.GetAddr(), apiPrefix)
}

func (s *testNodeSuite) TearDownSuite(c *C) {
	s.cleanup()
}

func (s *testNodeSuite) TestNodeLifecycle(c *C) {
	for nodeID := uint64(1); nodeID <= 2; nodeID++ {
		url := fmt.Sprintf("%s/node/%d/heartbeat", s.urlPrefix, nodeID)
		mustDo(c, "POST", url, &HeartbeatRequest{Addr: fmt.Sprintf("127.0.0.1:%d", 9000+nodeID), Version: "v1.0.0"}, http.StatusOK, nil)
	}
	mustDo(c, "POST", s.urlPrefix+"/node/3/heartbeat", &HeartbeatRequest{Version: "1.0.0"}, http.StatusBadRequest, nil)
	mustDo(c, "POST", s.urlPrefix+"/node/3/heartbeat", &HeartbeatRequest{Addr: "127.0.0.1:9003", Version: "x.y"}, http.StatusBadRequest, nil)

	nodes := &NodesInfo{}
	mustDo(c, "GET", s.urlPrefix+"/nodes", nil, http.StatusOK, nodes)
	c.Assert(nodes.Count, Equals, 2)
	c.Assert(nodes.Nodes[0].Addr, Equals, "127.0.0.1:9001")
	c.Assert(nodes.Nodes[0].IsDead, IsFalse)

	mustDo(c, "DELETE", s.urlPrefix+"/node/2", nil, http.StatusOK, nil)
	node := &NodeStatus{}
	mustDo(c, "GET", s.urlPrefix+"/node/2", nil, http.StatusOK, node)
	c.Assert(node.State, Equals, cluster.NodeStateTombstone)
	c.Assert(s.svr.GetCluster().GetNodeIDs(true), DeepEquals, []uint64{1})

	// A removed node cannot come back.
	mustDo(c, "POST", s.urlPrefix+"/node/2/heartbeat", &HeartbeatRequest{Addr: "127.0.0.1:9002"}, http.StatusGone, nil)
	mustDo(c, "GET", s.urlPrefix+"/node/5", nil, http.StatusNotFound, nil)
	mustDo(c, "DELETE", s.urlPrefix+"/node/5", nil, http.StatusNotFound, nil)
}

func (s *testNodeSuite) TestStatus(c *C) {
	mustDo(c, "GET", s.urlPrefix+"/ping", nil, http.StatusOK, nil)

	version := &Version{}
	mustDo(c, "GET", s.urlPrefix+"/version", nil, http.StatusOK, version)
	c.Assert(version.Version, Equals, server.ReleaseVersion)

	status := &Status{}
	mustDo(c, "GET", s.urlPrefix+"/status", nil, http.StatusOK, status)
	c.Assert(status.Name, Equals, s.svr.Name())
	c.Assert(status.TaskCount, Equals, 0)

	cfg := &config.Config{}
	mustDo(c, "GET", s.urlPrefix+"/config", nil, http.StatusOK, cfg)
	c.Assert(cfg.Publish.PublishVersionInterval, Equals, s.svr.GetConfig().Publish.PublishVersionInterval)

	resp := doJSON(c, "GET", s.svr.GetAddr()+"/metrics", nil)
	resp.Body.Close()
	c.Assert(resp.StatusCode, Equals, http.StatusOK)
}

func (s *testNodeSuite) TestSetLogLevel(c *C) {
	defer log.SetLevel(zapcore.InfoLevel)
	mustDo(c, "POST", s.urlPrefix+"/admin/log", "debug", http.StatusOK, nil)
	c.Assert(log.GetLevel(), Equals, zapcore.DebugLevel)
	c.Assert(s.svr.GetConfig().Log.Level, Equals, "debug")
	mustDo(c, "POST", s.urlPrefix+"/admin/log", 1, http.StatusBadRequest, nil)
}
