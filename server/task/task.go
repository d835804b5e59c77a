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

// Package task is the task-dispatch subsystem: the outstanding task registry
// and the asynchronous delivery of tasks to storage nodes.
package task

import (
	"strings"

	"github.com/pkg/errors"
)

// Type is the kind of an agent task.
type Type int

// Task types.
const (
	TypeUnknown Type = iota
	TypePublishVersion
)

func (t Type) String() string {
	switch t {
	case TypePublishVersion:
		return "PUBLISH_VERSION"
	default:
		return "UNKNOWN"
	}
}

// ParseType parses a task type name.
func ParseType(name string) (Type, error) {
	if strings.EqualFold(name, TypePublishVersion.String()) {
		return TypePublishVersion, nil
	}
	return TypeUnknown, errors.Errorf("unknown task type %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Type) UnmarshalText(text []byte) error {
	typ, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = typ
	return nil
}

// AgentTask is a task addressed to one storage node. A task is identified
// by (node, type, signature).
type AgentTask interface {
	NodeID() uint64
	Type() Type
	Signature() uint64
}

// Finisher is an AgentTask that accepts completion reports.
type Finisher interface {
	AgentTask
	Finish(errorTablets []uint64) bool
}
