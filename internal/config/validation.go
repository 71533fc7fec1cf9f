package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedFormats = map[string]struct{}{
	FormatPDF: {},
	FormatZIP: {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("StoragePath", "不能为空")
	}
	if g.LogMaxSize < 0 {
		return newFieldError("LogMaxSize", "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("LogMaxBackups", "不能为负数")
	}

	comic := c.Comic
	if comic.MaxCache < 0 {
		return newFieldError("MaxCache", "不能为负数")
	}
	if _, ok := supportedFormats[comic.FileFormat]; !ok {
		return newFieldError("FileFormat", "仅支持 pdf|zip")
	}
	if comic.FetchTimeout.DurationValue() < 0 {
		return newFieldError("FetchTimeout", "不能为负数")
	}
	if comic.MaxConcurrentFetches < 0 {
		return newFieldError("MaxConcurrentFetches", "不能为负数")
	}
	if comic.Proxy != "" {
		if err := validateProxy(comic.Proxy); err != nil {
			return fmt.Errorf("Proxy: %w", err)
		}
	}

	rt := c.Runtime
	if strings.TrimSpace(rt.Script) == "" {
		return newFieldError("Script", "不能为空")
	}
	if rt.InstallTimeout.DurationValue() < 0 {
		return newFieldError("InstallTimeout", "不能为负数")
	}
	for _, req := range rt.Requirements {
		if strings.TrimSpace(req) == "" {
			return newFieldError("Requirements", "不能包含空项")
		}
		if strings.HasPrefix(strings.TrimSpace(req), "-") {
			return newFieldError("Requirements", "不允许传入 pip 参数")
		}
	}

	return nil
}

func validateProxy(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch parsed.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return fmt.Errorf("仅支持 http/https/socks5，代理: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("代理缺少 Host: %s", raw)
	}
	return nil
}
