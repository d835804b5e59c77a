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
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// NewStatusCommand returns a status subcommand of rootCmd.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show the publish server status",
		Run: func(cmd *cobra.Command, args []string) {
			printRequest(cmd, "status", http.MethodGet)
		},
	}
}

// NewConfigCommand returns a config subcommand of rootCmd.
func NewConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "show the publish server config",
		Run: func(cmd *cobra.Command, args []string) {
			printRequest(cmd, "config", http.MethodGet)
		},
	}
}

// NewPingCommand returns a ping subcommand of rootCmd.
func NewPingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "check the publish server is serving",
		Run: func(cmd *cobra.Command, args []string) {
			if _, err := doRequest(cmd, "ping", http.MethodGet); err != nil {
				cmd.Println(err)
				return
			}
			cmd.Println("pong")
		},
	}
}

// NewLogCommand returns a log subcommand of rootCmd.
func NewLogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "log [debug|info|warn|error|fatal]",
		Short: "set the log level of the publish server",
		Run:   logCommandFunc,
	}
}

func logCommandFunc(cmd *cobra.Command, args []string) {
	if len(args) != 1 {
		cmd.Println(cmd.UsageString())
		return
	}
	level := strings.ToLower(args[0])
	if _, err := doRequest(cmd, "admin/log", http.MethodPost, WithJSON(level)); err != nil {
		cmd.Printf("Failed to set log level: %s\n", err)
		return
	}
	cmd.Println("Success!")
}
