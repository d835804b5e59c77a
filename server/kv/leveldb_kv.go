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

package kv

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LeveldbKV is a kv store using leveldb.
type LeveldbKV struct {
	*leveldb.DB
}

// NewLeveldbKV opens or creates the leveldb database under path.
func NewLeveldbKV(path string) (*LeveldbKV, error) {
	if path == "" {
		return nil, errors.New("leveldb storage needs a data dir")
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LeveldbKV{db}, nil
}

// Load gets a value for a given key.
func (kv *LeveldbKV) Load(key string) (string, error) {
	defer observe(EngineLeveldb, "load")()
	v, err := kv.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", errors.WithStack(err)
	}
	return string(v), nil
}

// LoadRange gets a range of value for a given key range.
func (kv *LeveldbKV) LoadRange(startKey, endKey string, limit int) ([]string, []string, error) {
	defer observe(EngineLeveldb, "load_range")()
	iter := kv.NewIterator(&util.Range{Start: []byte(startKey), Limit: []byte(endKey)}, nil)
	defer iter.Release()
	keys := make([]string, 0, limit)
	values := make([]string, 0, limit)
	for len(keys) < limit && iter.Next() {
		keys = append(keys, string(iter.Key()))
		values = append(values, string(iter.Value()))
	}
	return keys, values, errors.WithStack(iter.Error())
}

// Save stores a key-value pair.
func (kv *LeveldbKV) Save(key, value string) error {
	defer observe(EngineLeveldb, "save")()
	return errors.WithStack(kv.Put([]byte(key), []byte(value), nil))
}

// Remove deletes a key-value pair for a given key.
func (kv *LeveldbKV) Remove(key string) error {
	defer observe(EngineLeveldb, "remove")()
	return errors.WithStack(kv.Delete([]byte(key), nil))
}

// SaveBatch stores several key-value pairs atomically.
func (kv *LeveldbKV) SaveBatch(pairs map[string]string) error {
	defer observe(EngineLeveldb, "save_batch")()
	batch := new(leveldb.Batch)
	for k, v := range pairs {
		batch.Put([]byte(k), []byte(v))
	}
	return errors.WithStack(kv.Write(batch, nil))
}
