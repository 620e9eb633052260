// Copyright (c) 2021 PaddlePaddle Authors. All Rights Reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/cyjseagull/WeDPR-Component/client"
	"github.com/cyjseagull/WeDPR-Component/config"
)

const defaultTimeout = 10 * time.Second

var (
	configPath string
	host       string
	id         string
	jobID      string
	user       string
)

// rootCmd represents the task command group, talks to the control service of
// a model node
var rootCmd = &cobra.Command{
	Use:   "task",
	Short: "run, kill and query model tasks of a node",
}

func RootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "./conf/config.toml", "configuration file")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "", "", "node address, overrides the configuration file")
}

// nodeClient connects the node, the context is bounded by the configured timeout
func nodeClient() (*client.Client, context.Context, context.CancelFunc, error) {
	timeout := defaultTimeout
	if host == "" {
		if err := config.InitCliConfig(configPath); err != nil {
			return nil, nil, nil, err
		}
		conf := config.GetCliConf()
		host = conf.NodeAddress
		if conf.Timeout > 0 {
			timeout = time.Duration(conf.Timeout) * time.Second
		}
	}
	c, err := client.GetNodeClient(host)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return c, ctx, cancel, nil
}
