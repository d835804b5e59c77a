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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/pingcap-incubator/tinypublish/server/core"
	"github.com/pkg/errors"
)

// PublishVersionPath is the node endpoint receiving publish tasks.
const PublishVersionPath = "/api/v1/publish_version"

// PublishVersionTaskRequest is one publish task on the wire.
type PublishVersionTaskRequest struct {
	NodeID                uint64                      `json:"node_id"`
	TransactionID         uint64                      `json:"transaction_id"`
	DBID                  uint64                      `json:"db_id"`
	Signature             uint64                      `json:"signature"`
	PartitionVersionInfos []core.PartitionVersionInfo `json:"partition_version_infos"`
}

// PublishVersionRequest carries all publish tasks of one node.
type PublishVersionRequest struct {
	Tasks []*PublishVersionTaskRequest `json:"tasks"`
}

// FinishRequest is the completion report a node sends for a task.
type FinishRequest struct {
	NodeID         uint64   `json:"node_id"`
	TaskType       Type     `json:"task_type"`
	Signature      uint64   `json:"signature"`
	ErrorTabletIDs []uint64 `json:"error_tablet_ids"`
}

func newPublishVersionTaskRequest(t *PublishVersionTask) *PublishVersionTaskRequest {
	return &PublishVersionTaskRequest{
		NodeID:                t.NodeID(),
		TransactionID:         t.TransactionID(),
		DBID:                  t.DBID(),
		Signature:             t.Signature(),
		PartitionVersionInfos: t.VersionInfos(),
	}
}

// NodeClient delivers requests to storage nodes.
type NodeClient interface {
	PublishVersion(ctx context.Context, addr string, req *PublishVersionRequest) error
}

type httpNodeClient struct {
	client *http.Client
}

// NewHTTPNodeClient creates a NodeClient posting JSON over HTTP.
func NewHTTPNodeClient(timeout time.Duration) NodeClient {
	return &httpNodeClient{
		client: &http.Client{Timeout: timeout},
	}
}

func (c *httpNodeClient) PublishVersion(ctx context.Context, addr string, req *PublishVersionRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.WithStack(err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, nodeURL(addr, PublishVersionPath), bytes.NewBuffer(data))
	if err != nil {
		return errors.WithStack(err)
	}
	httpReq = httpReq.WithContext(ctx)
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := ioutil.ReadAll(resp.Body)
		return errors.Errorf("[%d] %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func nodeURL(addr, path string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return fmt.Sprintf("%s%s", strings.TrimSuffix(addr, "/"), path)
}
