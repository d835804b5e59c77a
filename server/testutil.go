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

package server

import (
	"context"
	"io/ioutil"
	"os"
	"sync"
	"time"

	"github.com/pingcap-incubator/tinypublish/pkg/typeutil"
	"github.com/pingcap-incubator/tinypublish/server/config"
	"github.com/pingcap-incubator/tinypublish/server/kv"
	"github.com/pingcap/check"
	"github.com/pingcap/log"
)

// CleanupFunc closes the test server and deletes any files left behind.
type CleanupFunc func()

// NewTestServer creates and runs a publish server for testing.
func NewTestServer(c *check.C, builder HandlerBuilder) (*Server, CleanupFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := NewTestSingleConfig(c)
	s, err := CreateServer(cfg, builder)
	if err != nil {
		cancel()
		os.RemoveAll(cfg.DataDir)
		return nil, nil, err
	}
	if err = s.Run(ctx); err != nil {
		cancel()
		os.RemoveAll(cfg.DataDir)
		return nil, nil, err
	}

	cleanup := func() {
		cancel()
		s.Close()
		os.RemoveAll(cfg.DataDir)
	}
	return s, cleanup, nil
}

var zapLogOnce sync.Once

// NewTestSingleConfig creates a config listening on a random local port,
// with a leveldb store in a temporary directory and short publish intervals.
func NewTestSingleConfig(c *check.C) *config.Config {
	cfg := config.NewConfig()
	cfg.Name = "publish"
	cfg.ClientUrls = "http://127.0.0.1:0"
	cfg.StorageEngine = kv.EngineLeveldb
	cfg.DataDir, _ = ioutil.TempDir("/tmp", "test_publish")
	cfg.Publish.PublishVersionInterval = typeutil.NewDuration(50 * time.Millisecond)
	cfg.Publish.PublishTimeout = typeutil.NewDuration(2 * time.Second)
	cfg.Publish.SendTimeout = typeutil.NewDuration(time.Second)

	err := cfg.SetupLogger()
	c.Assert(err, check.IsNil)
	zapLogOnce.Do(func() {
		log.ReplaceGlobals(cfg.GetZapLogger(), cfg.GetZapLogProperties())
	})

	c.Assert(cfg.Adjust(nil), check.IsNil)

	return cfg
}
