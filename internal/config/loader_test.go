package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFailsWithInvalidFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "invalid.yaml")); err == nil {
		t.Fatalf("非法字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
StoragePath: ./data
FetchTimeout: boom
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsSecondsDuration(t *testing.T) {
	path := writeTempConfig(t, "FetchTimeout: 90\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := cfg.Comic.FetchTimeout.DurationValue(); got != 90*time.Second {
		t.Fatalf("纯数字应按秒解析，得到 %s", got)
	}
}

func TestLoadResolvesScriptRelativeToConfig(t *testing.T) {
	path := writeTempConfig(t, "Script: ./renderer/main.py\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	want := filepath.Join(filepath.Dir(path), "renderer", "main.py")
	if cfg.Runtime.Script != want {
		t.Fatalf("脚本路径应相对配置文件解析，期望 %s 得到 %s", want, cfg.Runtime.Script)
	}
}
