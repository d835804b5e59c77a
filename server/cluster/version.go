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

package cluster

import (
	"github.com/coreos/go-semver/semver"
	"github.com/pkg/errors"
)

// Feature is a node capability gated by version.
type Feature int

// Features list.
const (
	Base Feature = iota
	// BatchPublish lets a node accept all of its publish tasks of a cycle in
	// one request. Older nodes get one request per task.
	BatchPublish
)

var featuresDict = map[Feature]string{
	Base:         "1.0.0",
	BatchPublish: "1.1.0",
}

// MinSupportedVersion returns the minimum version for the specified feature.
func MinSupportedVersion(f Feature) *semver.Version {
	return semver.New(featuresDict[f])
}

// ParseVersion wraps semver.NewVersion. An empty version is the base version
// and a leading 'v' is accepted.
func ParseVersion(v string) (*semver.Version, error) {
	if v == "" {
		return semver.New(featuresDict[Base]), nil
	}
	if v[0] == 'v' {
		v = v[1:]
	}
	ver, err := semver.NewVersion(v)
	return ver, errors.WithStack(err)
}
