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
	"fmt"
	"math"
	"path"

	"github.com/pingcap-incubator/tinypublish/server/kv"
	"github.com/pkg/errors"
)

const (
	clusterPath = "publish"
	nodePath    = "node"
	txnPath     = "txn"
	metaPath    = "meta"
)

const minKVRangeLimit = 100

// Storage wraps all kv operations, keep it stateless.
type Storage struct {
	kv.Base
}

// NewStorage creates Storage instance with Base.
func NewStorage(base kv.Base) *Storage {
	return &Storage{
		Base: base,
	}
}

func idPath(kind string, id uint64) string {
	return path.Join(clusterPath, kind, fmt.Sprintf("%020d", id))
}

func metaIDPath(kind string, id uint64) string {
	return path.Join(clusterPath, metaPath, kind, fmt.Sprintf("%020d", id))
}

// SaveNode saves one node to storage.
func (s *Storage) SaveNode(nodeID uint64, node interface{}) error {
	return saveJSON(s.Base, idPath(nodePath, nodeID), node)
}

// LoadNodes calls f with every stored node. f decodes the value and returns
// the node id.
func (s *Storage) LoadNodes(f func(data []byte) (uint64, error)) error {
	return s.loadAll(func(id uint64) string { return idPath(nodePath, id) }, f)
}

// SaveTransaction saves one transaction to storage.
func (s *Storage) SaveTransaction(txnID uint64, txn interface{}) error {
	return saveJSON(s.Base, idPath(txnPath, txnID), txn)
}

// DeleteTransaction removes one transaction from storage.
func (s *Storage) DeleteTransaction(txnID uint64) error {
	return s.Remove(idPath(txnPath, txnID))
}

// LoadTransactions calls f with every stored transaction.
func (s *Storage) LoadTransactions(f func(data []byte) (uint64, error)) error {
	return s.loadAll(func(id uint64) string { return idPath(txnPath, id) }, f)
}

// SaveMeta saves one catalog object, kind is partition, tablet or replica.
func (s *Storage) SaveMeta(kind string, id uint64, meta interface{}) error {
	return saveJSON(s.Base, metaIDPath(kind, id), meta)
}

// DeleteMeta removes one catalog object.
func (s *Storage) DeleteMeta(kind string, id uint64) error {
	return s.Remove(metaIDPath(kind, id))
}

// MetaBatch collects catalog objects that must be saved together.
type MetaBatch struct {
	pairs map[string]string
}

// NewMetaBatch creates an empty MetaBatch.
func NewMetaBatch() *MetaBatch {
	return &MetaBatch{pairs: make(map[string]string)}
}

// Put adds one catalog object. A later Put of the same kind and id wins.
func (b *MetaBatch) Put(kind string, id uint64, meta interface{}) error {
	value, err := json.Marshal(meta)
	if err != nil {
		return errors.WithStack(err)
	}
	b.pairs[metaIDPath(kind, id)] = string(value)
	return nil
}

// Len returns the number of objects in the batch.
func (b *MetaBatch) Len() int {
	return len(b.pairs)
}

// SaveMetaBatch saves every object of the batch or none of them.
func (s *Storage) SaveMetaBatch(b *MetaBatch) error {
	if b.Len() == 0 {
		return nil
	}
	return s.SaveBatch(b.pairs)
}

// LoadMetas calls f with every stored catalog object of kind.
func (s *Storage) LoadMetas(kind string, f func(data []byte) (uint64, error)) error {
	return s.loadAll(func(id uint64) string { return metaIDPath(kind, id) }, f)
}

func (s *Storage) loadAll(keyOf func(uint64) string, f func(data []byte) (uint64, error)) error {
	nextID := uint64(0)
	endKey := keyOf(math.MaxUint64)
	for {
		_, res, err := s.LoadRange(keyOf(nextID), endKey, minKVRangeLimit)
		if err != nil {
			return err
		}
		for _, str := range res {
			id, err := f([]byte(str))
			if err != nil {
				return err
			}
			nextID = id + 1
		}
		if len(res) < minKVRangeLimit {
			return nil
		}
	}
}

func saveJSON(s kv.Base, key string, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(err)
	}
	return s.Save(key, string(value))
}
