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
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var dialClient = &http.Client{}

const (
	apiPrefix       = "publish/api/v1"
	defaultEndpoint = "http://127.0.0.1:8030"
)

type bodyOption struct {
	contentType string
	body        io.Reader
}

// BodyOption sets the body of a request.
type BodyOption func(*bodyOption)

// WithBody returns a BodyOption with the given content type and body.
func WithBody(contentType string, body io.Reader) BodyOption {
	return func(bo *bodyOption) {
		bo.contentType = contentType
		bo.body = body
	}
}

// WithJSON returns a BodyOption carrying input encoded as JSON.
func WithJSON(input interface{}) BodyOption {
	data, err := json.Marshal(input)
	if err != nil {
		panic(err)
	}
	return WithBody("application/json", bytes.NewBuffer(data))
}

func getEndpoint(cmd *cobra.Command) string {
	addr, err := cmd.Flags().GetString("url")
	if err != nil || addr == "" {
		addr = defaultEndpoint
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimSuffix(addr, "/")
}

func doRequest(cmd *cobra.Command, prefix string, method string, opts ...BodyOption) (string, error) {
	b := &bodyOption{}
	for _, o := range opts {
		o(b)
	}
	url := fmt.Sprintf("%s/%s/%s", getEndpoint(cmd), apiPrefix, prefix)
	req, err := http.NewRequest(method, url, b.body)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if b.contentType != "" {
		req.Header.Set("Content-Type", b.contentType)
	}
	resp, err := dialClient.Do(req)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer resp.Body.Close()
	content, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("[%d] %s", resp.StatusCode, strings.TrimSpace(string(content)))
	}
	return string(content), nil
}

// printRequest sends the request and prints the response body.
func printRequest(cmd *cobra.Command, prefix string, method string, opts ...BodyOption) {
	r, err := doRequest(cmd, prefix, method, opts...)
	if err != nil {
		cmd.Printf("Failed to %s %s: %s\n", strings.ToLower(method), prefix, err)
		return
	}
	cmd.Println(r)
}

func parseUint64(cmd *cobra.Command, name, str string) (uint64, bool) {
	v, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		cmd.Printf("invalid %s %q\n", name, str)
		return 0, false
	}
	return v, true
}

func parseUint64s(cmd *cobra.Command, name string, strs []string) ([]uint64, bool) {
	res := make([]uint64, 0, len(strs))
	for _, str := range strs {
		v, ok := parseUint64(cmd, name, str)
		if !ok {
			return nil, false
		}
		res = append(res, v)
	}
	return res, true
}
