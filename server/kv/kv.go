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
)

// Storage engines accepted by New.
const (
	EngineMemory  = "memory"
	EngineLeveldb = "leveldb"
)

// Base is an abstract interface for load/save key-value pairs.
// Load returns an empty string and nil error for a missing key.
// SaveBatch writes all pairs or none of them.
type Base interface {
	Load(key string) (string, error)
	LoadRange(key, endKey string, limit int) (keys []string, values []string, err error)
	Save(key, value string) error
	SaveBatch(pairs map[string]string) error
	Remove(key string) error
}

// New creates the Base of the given engine. path is only used by leveldb.
func New(engine, path string) (Base, error) {
	switch engine {
	case "", EngineMemory:
		return NewMemoryKV(), nil
	case EngineLeveldb:
		return NewLeveldbKV(path)
	default:
		return nil, errors.Errorf("unknown storage engine %q", engine)
	}
}

// Close releases the resources held by kv, if any.
func Close(kv Base) error {
	if c, ok := kv.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
