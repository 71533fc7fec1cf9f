package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultPath 是未指定 -config 与环境变量时读取的配置文件。
const DefaultPath = "config.yaml"

// Load 读取并解析 YAML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := resolvePaths(&cfg, filepath.Dir(path)); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5140)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("Debug", false)

	v.SetDefault("Cache", true)
	v.SetDefault("MaxCache", 0)
	v.SetDefault("ClearAtRestart", false)
	v.SetDefault("FullName", true)
	v.SetDefault("FileFormat", FormatPDF)
	v.SetDefault("ZipPassword", "")
	v.SetDefault("Proxy", "")
	v.SetDefault("FetchTimeout", "10m")
	v.SetDefault("MaxConcurrentFetches", 0)

	v.SetDefault("Python", "")
	v.SetDefault("BaseInterpreter", "python3")
	v.SetDefault("Requirements", []string{"jmcomic", "img2pdf"})
	v.SetDefault("Script", "./image2pdf/main.py")
	v.SetDefault("ScriptConfig", "./image2pdf/config.yml")
	v.SetDefault("InstallTimeout", "15m")
}

func applyDefaults(cfg *Config) {
	if cfg.Global.ListenPort == 0 {
		cfg.Global.ListenPort = 5140
	}
	cfg.Comic.FileFormat = strings.ToLower(strings.TrimSpace(cfg.Comic.FileFormat))
	if cfg.Comic.FileFormat == "" {
		cfg.Comic.FileFormat = FormatPDF
	}
	cfg.Comic.Proxy = strings.TrimSpace(cfg.Comic.Proxy)
	if cfg.Comic.FetchTimeout.DurationValue() == 0 {
		cfg.Comic.FetchTimeout = Duration(10 * time.Minute)
	}
	if cfg.Runtime.InstallTimeout.DurationValue() == 0 {
		cfg.Runtime.InstallTimeout = Duration(15 * time.Minute)
	}
	if strings.TrimSpace(cfg.Runtime.BaseInterpreter) == "" {
		cfg.Runtime.BaseInterpreter = "python3"
	}
}

// resolvePaths 将相对路径统一为绝对路径。Script/ScriptConfig 相对配置文件所在目录解析，
// StoragePath 相对当前工作目录解析。
func resolvePaths(cfg *Config, baseDir string) error {
	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	for _, p := range []*string{&cfg.Runtime.Script, &cfg.Runtime.ScriptConfig} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(filepath.Join(baseDir, *p))
		if err != nil {
			return fmt.Errorf("无法解析脚本路径: %w", err)
		}
		*p = abs
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
