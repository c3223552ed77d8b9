// config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	jmt "rollupstate/jmt"
	"rollupstate/kvstore"
	"rollupstate/logs"
)

// Config 主配置结构
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig 状态存储配置
type StorageConfig struct {
	// BadgerDB 配置
	DataDir          string `yaml:"data_dir"`           // "./data/state"
	Prefix           string `yaml:"prefix"`             // "state/"
	AccessoryPrefix  string `yaml:"accessory_prefix"`   // "accessory/"
	SyncWrites       bool   `yaml:"sync_writes"`        // true
	ValueLogFileSize int64  `yaml:"value_log_file_size"` // 64 << 20 (64MB)

	// 树配置
	Hasher        string `yaml:"hasher"`          // "sha256" / "sha3" / "keccak"
	NodeCacheSize int    `yaml:"node_cache_size"` // 10000

	// 快照层布隆过滤器位数
	BloomBits uint `yaml:"bloom_bits"` // 1 << 16
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `yaml:"level"` // "info"
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Storage: DefaultStorageConfig(),
		Log:     LogConfig{Level: "info"},
	}
}

// DefaultStorageConfig 默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:          filepath.Join("data", "state"),
		Prefix:           "state/",
		AccessoryPrefix:  "accessory/",
		SyncWrites:       true,
		ValueLogFileSize: 64 << 20,
		Hasher:           "sha256",
		NodeCacheSize:    jmt.DefaultNodeCacheSize,
		BloomBits:        1 << 16,
	}
}

// LoadFromFile 从 YAML 文件加载配置，未出现的字段保留默认值
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadStorageConfig 只取存储部分
func LoadStorageConfig(path string) (StorageConfig, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return StorageConfig{}, err
	}
	return cfg.Storage, nil
}

// Validate 验证配置合法性
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if _, err := logs.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Validate 验证存储配置
func (c StorageConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("storage.data_dir must be set")
	}
	if c.Prefix == "" || c.AccessoryPrefix == "" {
		return fmt.Errorf("storage prefixes must be non-empty")
	}
	// 共享同一 badger 实例时，一个前缀的迭代不能扫到另一个命名空间
	if strings.HasPrefix(c.Prefix, c.AccessoryPrefix) || strings.HasPrefix(c.AccessoryPrefix, c.Prefix) {
		return fmt.Errorf("storage.prefix %q and storage.accessory_prefix %q overlap", c.Prefix, c.AccessoryPrefix)
	}
	if _, err := jmt.HasherByName(c.Hasher); err != nil {
		return err
	}
	if c.ValueLogFileSize < 0 {
		return fmt.Errorf("storage.value_log_file_size must not be negative")
	}
	return nil
}

// NewHasher 按配置创建哈希器
func (c StorageConfig) NewHasher() (jmt.MerkleHasher, error) {
	return jmt.HasherByName(c.Hasher)
}

// BadgerOptions 转换为 BadgerDB 打开参数
func (c StorageConfig) BadgerOptions() kvstore.BadgerOptions {
	return kvstore.BadgerOptions{
		Dir:              c.DataDir,
		SyncWrites:       c.SyncWrites,
		ValueLogFileSize: c.ValueLogFileSize,
	}
}
