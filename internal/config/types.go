package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// 输出格式。
const (
	FormatPDF = "pdf"
	FormatZIP = "zip"
)

// GlobalConfig 描述服务运行时行为。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	StoragePath   string `mapstructure:"StoragePath"`
	Debug         bool   `mapstructure:"Debug"`
}

// ComicConfig 对应下载/缓存/打包相关选项。
type ComicConfig struct {
	// Cache 为 false 时，每次交付后都会清空缓存目录。
	Cache bool `mapstructure:"Cache"`
	// MaxCache 为缓存条目上限，0 表示不限制。
	MaxCache       int  `mapstructure:"MaxCache"`
	ClearAtRestart bool `mapstructure:"ClearAtRestart"`
	// FullName 决定附件标题使用缓存文件名还是 "<id>.<ext>"。
	FullName    bool   `mapstructure:"FullName"`
	FileFormat  string `mapstructure:"FileFormat"`
	ZipPassword string `mapstructure:"ZipPassword"`
	Proxy       string `mapstructure:"Proxy"`

	FetchTimeout         Duration `mapstructure:"FetchTimeout"`
	MaxConcurrentFetches int      `mapstructure:"MaxConcurrentFetches"`
}

// RuntimeConfig 描述外部渲染脚本及其 Python 运行环境。
type RuntimeConfig struct {
	// Python 为空时自动在 StoragePath/env 下创建虚拟环境。
	Python          string   `mapstructure:"Python"`
	BaseInterpreter string   `mapstructure:"BaseInterpreter"`
	Requirements    []string `mapstructure:"Requirements"`
	Script          string   `mapstructure:"Script"`
	ScriptConfig    string   `mapstructure:"ScriptConfig"`
	InstallTimeout  Duration `mapstructure:"InstallTimeout"`
}

// Config 是配置文件映射的整体结构，所有字段平铺在顶层。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Comic   ComicConfig   `mapstructure:",squash"`
	Runtime RuntimeConfig `mapstructure:",squash"`
}

// CacheDir 返回保存成品文件的缓存目录。
func (c *Config) CacheDir() string {
	return filepath.Join(c.Global.StoragePath, "cache")
}

// EnvDir 返回自动创建的虚拟环境目录。
func (c *Config) EnvDir() string {
	return filepath.Join(c.Global.StoragePath, "env")
}

// RunDir 返回每次启动生成的渲染配置所在目录。
func (c *Config) RunDir() string {
	return filepath.Join(c.Global.StoragePath, "run")
}

// AutoProvision 表示是否需要自行创建 Python 环境。
func (c *Config) AutoProvision() bool {
	return strings.TrimSpace(c.Runtime.Python) == ""
}

// Encrypted 表示 zip 输出是否需要加密。
func (c ComicConfig) Encrypted() bool {
	return c.FileFormat == FormatZIP && c.ZipPassword != ""
}

// Summary 输出启动日志使用的配置摘要，不包含密码。
func (c *Config) Summary() map[string]interface{} {
	return map[string]interface{}{
		"cache":            c.Comic.Cache,
		"max_cache":        c.Comic.MaxCache,
		"clear_at_restart": c.Comic.ClearAtRestart,
		"file_format":      c.Comic.FileFormat,
		"encrypted":        c.Comic.Encrypted(),
		"auto_provision":   c.AutoProvision(),
		"proxy":            c.Comic.Proxy != "",
	}
}
