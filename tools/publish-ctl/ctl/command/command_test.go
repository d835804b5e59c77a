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

package command

import (
	"bytes"
	"strings"
	"testing"
	"time"

	. "github.com/pingcap/check"
	"github.com/spf13/cobra"
)

func Test(t *testing.T) {
	TestingT(t)
}

var _ = Suite(&testCommandSuite{})

type testCommandSuite struct{}

func newTestCommand() (*cobra.Command, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	cmd := &cobra.Command{}
	cmd.SetOutput(buf)
	return cmd, buf
}

func (s *testCommandSuite) TestParseTablePartitions(c *C) {
	cmd, buf := newTestCommand()
	tables, ok := parseTablePartitions(cmd, []string{"1:10,11", "2:20", "1:12"})
	c.Assert(ok, IsTrue)
	c.Assert(tables, DeepEquals, map[uint64][]uint64{1: {10, 11, 12}, 2: {20}})

	for _, arg := range []string{"1", "x:10", "1:10,y"} {
		buf.Reset()
		_, ok = parseTablePartitions(cmd, []string{arg})
		c.Assert(ok, IsFalse)
		c.Assert(buf.String(), Matches, "invalid .*\n")
	}
}

func (s *testCommandSuite) TestPrintNodes(c *C) {
	cmd, buf := newTestCommand()
	now := time.Now()
	nodes := &nodesInfo{
		Count: 2,
		Nodes: []*nodeStatus{
			{ID: 1, Addr: "127.0.0.1:9001", Version: "1.1.0", State: "Up", LastHeartbeat: now.Add(-3 * time.Second), TabletCount: 4},
			{ID: 2, Addr: "127.0.0.1:9002", State: "Up", IsDead: true},
		},
	}
	printNodes(cmd, nodes, now)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	c.Assert(lines, HasLen, 3)
	c.Assert(strings.Fields(lines[0])[0], Equals, "ID")
	c.Assert(strings.Contains(lines[1], "3 seconds ago"), IsTrue)
	c.Assert(strings.Fields(lines[1])[4], Equals, "4")
	c.Assert(strings.Contains(lines[2], "Down"), IsTrue)
	c.Assert(strings.Contains(lines[2], "never"), IsTrue)
}

func (s *testCommandSuite) TestGetEndpoint(c *C) {
	cmd, _ := newTestCommand()
	cmd.Flags().String("url", "", "")
	c.Assert(getEndpoint(cmd), Equals, defaultEndpoint)
	c.Assert(cmd.Flags().Set("url", "127.0.0.1:1234/"), IsNil)
	c.Assert(getEndpoint(cmd), Equals, "http://127.0.0.1:1234")
}
