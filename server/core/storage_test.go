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

package core

import (
	"encoding/json"

	"github.com/pingcap-incubator/tinypublish/server/kv"
	. "github.com/pingcap/check"
)

var _ = Suite(&testStorageSuite{})

type testStorageSuite struct{}

type testObject struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

func decodeInto(out *[]testObject) func(data []byte) (uint64, error) {
	return func(data []byte) (uint64, error) {
		var obj testObject
		if err := json.Unmarshal(data, &obj); err != nil {
			return 0, err
		}
		*out = append(*out, obj)
		return obj.ID, nil
	}
}

func (s *testStorageSuite) TestLoadAcrossPages(c *C) {
	storage := NewStorage(kv.NewMemoryKV())
	n := minKVRangeLimit*2 + 7
	for i := 1; i <= n; i++ {
		c.Assert(storage.SaveTransaction(uint64(i), testObject{ID: uint64(i)}), IsNil)
	}
	c.Assert(storage.SaveNode(1, testObject{ID: 1, Name: "node"}), IsNil)

	var txns []testObject
	c.Assert(storage.LoadTransactions(decodeInto(&txns)), IsNil)
	c.Assert(txns, HasLen, n)
	c.Assert(txns[0].ID, Equals, uint64(1))
	c.Assert(txns[n-1].ID, Equals, uint64(n))

	c.Assert(storage.DeleteTransaction(5), IsNil)
	txns = txns[:0]
	c.Assert(storage.LoadTransactions(decodeInto(&txns)), IsNil)
	c.Assert(txns, HasLen, n-1)

	var nodes []testObject
	c.Assert(storage.LoadNodes(decodeInto(&nodes)), IsNil)
	c.Assert(nodes, DeepEquals, []testObject{{ID: 1, Name: "node"}})
}

func (s *testStorageSuite) TestMetaKinds(c *C) {
	storage := NewStorage(kv.NewMemoryKV())
	c.Assert(storage.SaveMeta("partition", 10, testObject{ID: 10}), IsNil)
	c.Assert(storage.SaveMeta("tablet", 10, testObject{ID: 10, Name: "tablet"}), IsNil)

	var partitions []testObject
	c.Assert(storage.LoadMetas("partition", decodeInto(&partitions)), IsNil)
	c.Assert(partitions, DeepEquals, []testObject{{ID: 10}})

	c.Assert(storage.DeleteMeta("tablet", 10), IsNil)
	var tablets []testObject
	c.Assert(storage.LoadMetas("tablet", decodeInto(&tablets)), IsNil)
	c.Assert(tablets, HasLen, 0)
}

func (s *testStorageSuite) TestMetaBatch(c *C) {
	storage := NewStorage(kv.NewMemoryKV())
	c.Assert(storage.SaveMetaBatch(NewMetaBatch()), IsNil)

	batch := NewMetaBatch()
	c.Assert(batch.Put("partition", 10, testObject{ID: 10}), IsNil)
	c.Assert(batch.Put("partition", 20, testObject{ID: 20}), IsNil)
	c.Assert(batch.Put("partition", 10, testObject{ID: 10, Name: "again"}), IsNil)
	c.Assert(batch.Put("replica", 1011, testObject{ID: 1011}), IsNil)
	c.Assert(batch.Len(), Equals, 3)
	c.Assert(storage.SaveMetaBatch(batch), IsNil)

	var partitions []testObject
	c.Assert(storage.LoadMetas("partition", decodeInto(&partitions)), IsNil)
	c.Assert(partitions, DeepEquals, []testObject{{ID: 10, Name: "again"}, {ID: 20}})
	var replicas []testObject
	c.Assert(storage.LoadMetas("replica", decodeInto(&replicas)), IsNil)
	c.Assert(replicas, HasLen, 1)
}
