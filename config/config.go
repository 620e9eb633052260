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

package config

import (
	"github.com/spf13/viper"
)

var (
	logConf  *Log
	nodeConf *NodeConf
	cliConf  *CliConf
)

// NodeConf is the configuration of one model node
type NodeConf struct {
	AgencyID      string
	NodeID        string
	Component     string
	ListenAddress string
	JobTempDir    string
	Transport     *TransportConf
	Task          *TaskConf
	Storage       *StorageConf
	Crypto        *CryptoConf
	Metrics       *MetricsConf
}

// TransportConf holds timeouts in milliseconds and the static peer table
type TransportConf struct {
	SendTimeout      int
	PopTimeout       int
	PollInterval     int
	HandshakeTimeout int
	Peers            []*PeerConf
}

type PeerConf struct {
	AgencyID   string
	NodeID     string
	Components []string
	Address    string
}

type TaskConf struct {
	TimeoutHours  float64
	SweepInterval int
	Store         *StoreConf
}

// StoreConf selects the job record store, Type is one of mysql, sqlite or leveldb
type StoreConf struct {
	Type string
	DSN  string
	Path string
}

type StorageConf struct {
	LocalStoragePath string
	HomePath         string
}

type CryptoConf struct {
	Family     string
	KeyLength  int
	IterRound  int
	AESKeyFile string
}

type MetricsConf struct {
	ListenAddress string
}

type Log struct {
	Level string
	Path  string
}

// CliConf is used by the command line client
type CliConf struct {
	NodeAddress string
	Timeout     int
}

// InitConfig parses configuration file
func InitConfig(configPath string) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	logConf = new(Log)
	err := v.Sub("log").Unmarshal(logConf)
	if err != nil {
		return err
	}
	nodeConf = new(NodeConf)
	err = v.Sub("node").Unmarshal(nodeConf)
	if err != nil {
		return err
	}
	return nil
}

// InitCliConfig parses client configuration file. if "cli" section is not found, the node's
// listen address is used.
func InitCliConfig(configPath string) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	innerV := v.Sub("cli")
	if innerV != nil {
		cliConf = new(CliConf)
		return innerV.Unmarshal(cliConf)
	}
	err := InitConfig(configPath)
	if err == nil {
		cliConf = &CliConf{NodeAddress: nodeConf.ListenAddress}
	}
	return err
}

func GetNodeConf() *NodeConf {
	return nodeConf
}

func GetLogConf() *Log {
	return logConf
}

func GetCliConf() *CliConf {
	return cliConf
}
