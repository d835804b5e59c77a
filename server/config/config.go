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

package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap-incubator/tinypublish/pkg/typeutil"
	"github.com/pingcap-incubator/tinypublish/server/kv"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the publish server configuration.
type Config struct {
	*flag.FlagSet `json:"-"`

	Version bool `json:"-"`

	ConfigCheck bool `json:"-"`

	Name       string `toml:"name" json:"name"`
	ClientUrls string `toml:"client-urls" json:"client-urls"`
	DataDir    string `toml:"data-dir" json:"data-dir"`
	// StorageEngine is memory or leveldb.
	StorageEngine string `toml:"storage-engine" json:"storage-engine"`

	// Log related config.
	Log log.Config `toml:"log" json:"log"`

	Publish PublishConfig `toml:"publish" json:"publish"`

	Node NodeConfig `toml:"node" json:"node"`

	configFile string

	// For all warnings during parsing.
	WarningMsgs []string

	logger   *zap.Logger
	logProps *log.ZapProperties
}

// NewConfig creates a new config.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.FlagSet = flag.NewFlagSet("publish", flag.ContinueOnError)
	fs := cfg.FlagSet

	fs.BoolVar(&cfg.Version, "V", false, "print version information and exit")
	fs.BoolVar(&cfg.Version, "version", false, "print version information and exit")
	fs.StringVar(&cfg.configFile, "config", "", "Config file")
	fs.BoolVar(&cfg.ConfigCheck, "config-check", false, "check config file validity and exit")

	fs.StringVar(&cfg.Name, "name", "", "human-readable name for this server")
	fs.StringVar(&cfg.DataDir, "data-dir", "", "path to the data directory (default 'default.${name}')")
	fs.StringVar(&cfg.ClientUrls, "client-urls", defaultClientUrls, "url for client traffic")
	fs.StringVar(&cfg.StorageEngine, "storage-engine", "", "storage engine: memory, leveldb (default 'leveldb')")

	fs.StringVar(&cfg.Log.Level, "L", "", "log level: debug, info, warn, error, fatal (default 'info')")
	fs.StringVar(&cfg.Log.File.Filename, "log-file", "", "log file path")
	fs.StringVar(&cfg.Publish.AuditLogFile, "audit-log-file", "", "error replica audit log file path")

	return cfg
}

const (
	defaultName          = "publish"
	defaultClientUrls    = "http://127.0.0.1:8030"
	defaultStorageEngine = kv.EngineLeveldb

	defaultPublishVersionInterval = 10 * time.Second
	defaultPublishTimeout         = 30 * time.Second
	defaultExecutorConcurrency    = 4
	defaultNodeSendRate           = 100
	defaultSendTimeout            = 5 * time.Second
	defaultFinishedTxnKeepTime    = 72 * time.Hour

	defaultMaxNodeDownTime = 30 * time.Second
)

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustInt(v *int, defValue int) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustFloat64(v *float64, defValue float64) {
	if *v == 0 {
		*v = defValue
	}
}

func adjustDuration(v *typeutil.Duration, defValue time.Duration) {
	if v.Duration == 0 {
		v.Duration = defValue
	}
}

// Parse parses flag definitions from the argument list.
func (c *Config) Parse(arguments []string) error {
	// Parse first to get config file.
	err := c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	// Load config file if specified.
	var meta *toml.MetaData
	if c.configFile != "" {
		meta, err = c.configFromFile(c.configFile)
		if err != nil {
			return err
		}
	}

	// Parse again to replace with command line options.
	err = c.FlagSet.Parse(arguments)
	if err != nil {
		return errors.WithStack(err)
	}

	if len(c.FlagSet.Args()) != 0 {
		return errors.Errorf("'%s' is an invalid flag", c.FlagSet.Arg(0))
	}

	return c.Adjust(meta)
}

// Validate is used to validate if some configurations are right.
func (c *Config) Validate() error {
	if c.Log.File.Filename != "" {
		dataDir, err := filepath.Abs(c.DataDir)
		if err != nil {
			return errors.WithStack(err)
		}
		logFile, err := filepath.Abs(c.Log.File.Filename)
		if err != nil {
			return errors.WithStack(err)
		}
		rel, err := filepath.Rel(dataDir, filepath.Dir(logFile))
		if err != nil {
			return errors.WithStack(err)
		}
		if !strings.HasPrefix(rel, "..") {
			return errors.New("log directory shouldn't be the subdirectory of data directory")
		}
	}
	switch c.StorageEngine {
	case kv.EngineMemory, kv.EngineLeveldb:
	default:
		return errors.Errorf("unknown storage engine %q", c.StorageEngine)
	}
	if err := c.Publish.Validate(); err != nil {
		return err
	}
	if c.Node.MaxNodeDownTime.Duration <= 0 {
		return errors.New("max-node-down-time should be positive")
	}
	return nil
}

// Utility to test if a configuration is defined.
type configMetaData struct {
	meta *toml.MetaData
	path []string
}

func newConfigMetadata(meta *toml.MetaData) *configMetaData {
	return &configMetaData{meta: meta}
}

func (m *configMetaData) IsDefined(key string) bool {
	if m.meta == nil {
		return false
	}
	keys := append([]string(nil), m.path...)
	keys = append(keys, key)
	return m.meta.IsDefined(keys...)
}

func (m *configMetaData) Child(path ...string) *configMetaData {
	newPath := append([]string(nil), m.path...)
	newPath = append(newPath, path...)
	return &configMetaData{
		meta: m.meta,
		path: newPath,
	}
}

func (m *configMetaData) CheckUndecoded() error {
	if m.meta == nil {
		return nil
	}
	undecoded := m.meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, 0, len(undecoded))
	for _, key := range undecoded {
		keys = append(keys, key.String())
	}
	return errors.Errorf("Config contains undefined item: %s", strings.Join(keys, ", "))
}

// Adjust fills the defaults and validates the result.
func (c *Config) Adjust(meta *toml.MetaData) error {
	configMetaData := newConfigMetadata(meta)
	if err := configMetaData.CheckUndecoded(); err != nil {
		c.WarningMsgs = append(c.WarningMsgs, err.Error())
	}

	if c.Name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return err
		}
		adjustString(&c.Name, fmt.Sprintf("%s-%s", defaultName, hostname))
	}
	adjustString(&c.DataDir, fmt.Sprintf("default.%s", c.Name))
	adjustString(&c.ClientUrls, defaultClientUrls)
	adjustString(&c.StorageEngine, defaultStorageEngine)

	c.Publish.adjust(configMetaData.Child("publish"))
	c.Node.adjust()

	return c.Validate()
}

// Clone returns a cloned configuration.
func (c *Config) Clone() *Config {
	cfg := &Config{}
	*cfg = *c
	return cfg
}

func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "<nil>"
	}
	return string(data)
}

// configFromFile loads config from file.
func (c *Config) configFromFile(path string) (*toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, c)
	return &meta, errors.WithStack(err)
}

// ListenAddr returns the host:port part of ClientUrls.
func (c *Config) ListenAddr() string {
	addr := c.ClientUrls
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	return strings.TrimSuffix(addr, "/")
}

// AuditLogConfig returns the file settings of the error replica audit log.
// Rotation follows the main log file settings.
func (c *Config) AuditLogConfig() *log.FileLogConfig {
	return &log.FileLogConfig{
		Filename:   c.Publish.AuditLogFile,
		MaxSize:    c.Log.File.MaxSize,
		MaxDays:    c.Log.File.MaxDays,
		MaxBackups: c.Log.File.MaxBackups,
	}
}

// PublishConfig is the publish daemon and task delivery configuration.
type PublishConfig struct {
	// PublishVersionInterval is the interval of the publish daemon. A
	// dispatched transaction is not judged before two intervals passed.
	PublishVersionInterval typeutil.Duration `toml:"publish-version-interval" json:"publish-version-interval"`
	// PublishTimeout is the default time a transaction waits for all nodes
	// before the silent ones are marked failed.
	PublishTimeout typeutil.Duration `toml:"publish-timeout" json:"publish-timeout"`
	// ExecutorConcurrency is the number of delivery workers.
	ExecutorConcurrency int `toml:"executor-concurrency" json:"executor-concurrency"`
	// NodeSendRate is the number of tasks per second delivered to one node.
	NodeSendRate float64 `toml:"node-send-rate" json:"node-send-rate"`
	// SendTimeout is the timeout of one delivery request.
	SendTimeout typeutil.Duration `toml:"send-timeout" json:"send-timeout"`
	// FinishedTxnKeepTime is how long VISIBLE and ABORTED transactions are
	// kept, and their labels reserved.
	FinishedTxnKeepTime typeutil.Duration `toml:"finished-txn-keep-time" json:"finished-txn-keep-time"`
	// AuditLogFile is the file recording every error replica set. Empty
	// disables it.
	AuditLogFile string `toml:"audit-log-file" json:"audit-log-file"`
}

func (c *PublishConfig) adjust(meta *configMetaData) {
	adjustDuration(&c.PublishVersionInterval, defaultPublishVersionInterval)
	adjustDuration(&c.PublishTimeout, defaultPublishTimeout)
	adjustInt(&c.ExecutorConcurrency, defaultExecutorConcurrency)
	if !meta.IsDefined("node-send-rate") {
		adjustFloat64(&c.NodeSendRate, defaultNodeSendRate)
	}
	adjustDuration(&c.SendTimeout, defaultSendTimeout)
	adjustDuration(&c.FinishedTxnKeepTime, defaultFinishedTxnKeepTime)
}

// Validate checks the publish settings.
func (c *PublishConfig) Validate() error {
	if c.PublishVersionInterval.Duration <= 0 {
		return errors.New("publish-version-interval should be positive")
	}
	if c.PublishTimeout.Duration <= 0 {
		return errors.New("publish-timeout should be positive")
	}
	if c.ExecutorConcurrency <= 0 {
		return errors.New("executor-concurrency should be positive")
	}
	if c.NodeSendRate < 0 {
		return errors.New("node-send-rate should not be negative")
	}
	return nil
}

// NodeConfig is the node membership configuration.
type NodeConfig struct {
	// MaxNodeDownTime is the time without heartbeat after which a node is
	// reported dead. Dead nodes are still publish targets.
	MaxNodeDownTime typeutil.Duration `toml:"max-node-down-time" json:"max-node-down-time"`
}

func (c *NodeConfig) adjust() {
	adjustDuration(&c.MaxNodeDownTime, defaultMaxNodeDownTime)
}

// SetupLogger setup the logger.
func (c *Config) SetupLogger() error {
	lg, p, err := log.InitLogger(&c.Log, zap.AddStacktrace(zapcore.FatalLevel))
	if err != nil {
		return err
	}
	c.logger = lg
	c.logProps = p
	return nil
}

// GetZapLogger gets the created zap logger.
func (c *Config) GetZapLogger() *zap.Logger {
	return c.logger
}

// GetZapLogProperties gets properties of the zap logger.
func (c *Config) GetZapLogProperties() *log.ZapProperties {
	return c.logProps
}
