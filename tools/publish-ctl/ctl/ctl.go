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

package ctl

import (
	"fmt"
	"io"
	"os"

	"github.com/pingcap-incubator/tinypublish/tools/publish-ctl/ctl/command"
	"github.com/spf13/cobra"
)

// CommandFlags are the flags of the root command.
type CommandFlags struct {
	URL string
}

var commandFlags = CommandFlags{}

// InitCommand creates the root command with all subcommands.
func InitCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "publish-ctl",
		Short: "Publish server control",
	}
	rootCmd.PersistentFlags().StringVarP(&commandFlags.URL, "url", "u", "http://127.0.0.1:8030", "address of the publish server")
	rootCmd.AddCommand(
		command.NewTransactionCommand(),
		command.NewTaskCommand(),
		command.NewNodeCommand(),
		command.NewPartitionCommand(),
		command.NewTabletCommand(),
		command.NewReplicaCommand(),
		command.NewStatusCommand(),
		command.NewConfigCommand(),
		command.NewPingCommand(),
		command.NewLogCommand(),
	)
	rootCmd.SilenceErrors = true
	return rootCmd
}

// Start runs the command with args, writing to out.
func Start(args []string, out io.Writer) {
	rootCmd := InitCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOutput(out)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(out, err)
		os.Exit(1)
	}
}
