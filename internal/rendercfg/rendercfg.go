// Package rendercfg produces the YAML option file consumed by the external
// renderer. The shipped template is never modified; each start writes a
// fresh copy with the cache directory and proxy filled in.
package rendercfg

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Options 描述需要写入渲染配置的运行时参数。
type Options struct {
	// BaseDir 对应 dir_rule.base_dir，即成品与中间目录所在的缓存目录。
	BaseDir string
	// Proxy 为空时写入显式的 null。
	Proxy string
}

var (
	baseDirPath = []string{"dir_rule", "base_dir"}
	proxiesPath = []string{"client", "postman", "meta_data", "proxies"}
)

// Generate 读取模板（不存在时从空文档开始），写入 Options 后在 runDir 下生成新的配置文件，
// 返回其绝对路径。
func Generate(templatePath, runDir string, opts Options) (string, error) {
	if opts.BaseDir == "" {
		return "", errors.New("base dir required")
	}

	doc, err := loadTemplate(templatePath)
	if err != nil {
		return "", err
	}
	if err := Apply(doc, opts); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode renderer config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode renderer config: %w", err)
	}

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}
	f, err := os.CreateTemp(runDir, "option-*.yml")
	if err != nil {
		return "", fmt.Errorf("create renderer config: %w", err)
	}
	name := f.Name()
	_, err = f.Write(buf.Bytes())
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(name)
		return "", fmt.Errorf("write renderer config: %w", err)
	}
	return filepath.Abs(name)
}

// Cleanup 删除 runDir 下除 keep 之外的旧配置文件。
func Cleanup(runDir, keep string) error {
	matches, err := filepath.Glob(filepath.Join(runDir, "option-*.yml"))
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range matches {
		if m == keep {
			continue
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadTemplate(path string) (*yaml.Node, error) {
	empty := &yaml.Node{
		Kind:    yaml.DocumentNode,
		Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
	}
	if path == "" {
		return empty, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return empty, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read renderer template: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse renderer template: %w", err)
	}
	if doc.Kind == 0 {
		return empty, nil
	}
	return &doc, nil
}

// Apply 在 YAML 文档中设置 base_dir 与代理，保留其余节点与注释。
func Apply(doc *yaml.Node, opts Options) error {
	if err := SetIn(doc, baseDirPath, stringNode(opts.BaseDir)); err != nil {
		return err
	}
	proxy := nullNode()
	if opts.Proxy != "" {
		proxy = stringNode(opts.Proxy)
	}
	return SetIn(doc, proxiesPath, proxy)
}

// SetIn 按键路径设置值，缺失的中间映射会被创建；路径上遇到非映射节点时返回错误。
func SetIn(doc *yaml.Node, path []string, value *yaml.Node) error {
	if len(path) == 0 {
		return errors.New("empty yaml path")
	}
	node := doc
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"})
		}
		node = node.Content[0]
	}

	for depth, key := range path {
		if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
			node.Kind = yaml.MappingNode
			node.Tag = "!!map"
			node.Value = ""
		}
		if node.Kind != yaml.MappingNode {
			return fmt.Errorf("yaml path %v: %s is not a mapping", path, describe(path[:depth]))
		}
		last := depth == len(path)-1
		child := lookup(node, key)
		if child == nil {
			if last {
				node.Content = append(node.Content, stringNode(key), value)
				return nil
			}
			child = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			node.Content = append(node.Content, stringNode(key), child)
		} else if last {
			*child = *value
			return nil
		}
		node = child
	}
	return nil
}

func lookup(mapping *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func describe(path []string) string {
	if len(path) == 0 {
		return "document root"
	}
	return fmt.Sprintf("%v", path)
}

func stringNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func nullNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
}
