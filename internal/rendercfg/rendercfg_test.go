package rendercfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const sampleTemplate = `# renderer options
dir_rule:
  rule: Bd_Aname
  base_dir: /somewhere/else
client:
  impl: api
  postman:
    meta_data:
      proxies: system
download:
  image:
    suffix: .jpg
`

func TestGenerateSetsBaseDirAndProxy(t *testing.T) {
	dir := t.TempDir()
	template := writeTemplate(t, dir, sampleTemplate)

	out, err := Generate(template, filepath.Join(dir, "run"), Options{
		BaseDir: "/data/cache",
		Proxy:   "http://127.0.0.1:7890",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	got := decode(t, out)
	if v := dig(got, "dir_rule", "base_dir"); v != "/data/cache" {
		t.Fatalf("base_dir not rewritten: %v", v)
	}
	if v := dig(got, "client", "postman", "meta_data", "proxies"); v != "http://127.0.0.1:7890" {
		t.Fatalf("proxies not rewritten: %v", v)
	}
	if v := dig(got, "dir_rule", "rule"); v != "Bd_Aname" {
		t.Fatalf("unrelated keys must be preserved: %v", v)
	}
	if v := dig(got, "download", "image", "suffix"); v != ".jpg" {
		t.Fatalf("unrelated keys must be preserved: %v", v)
	}

	raw, _ := os.ReadFile(out)
	if !strings.Contains(string(raw), "# renderer options") {
		t.Fatalf("comments should survive:\n%s", raw)
	}
}

func TestGenerateWritesNullProxyWhenEmpty(t *testing.T) {
	dir := t.TempDir()
	template := writeTemplate(t, dir, sampleTemplate)

	out, err := Generate(template, filepath.Join(dir, "run"), Options{BaseDir: "/data/cache"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got := decode(t, out)
	meta, ok := dig(got, "client", "postman", "meta_data").(map[string]interface{})
	if !ok {
		t.Fatalf("meta_data missing")
	}
	value, present := meta["proxies"]
	if !present || value != nil {
		t.Fatalf("proxies should be an explicit null, got %v (present=%v)", value, present)
	}
}

func TestGenerateLeavesTemplateUntouched(t *testing.T) {
	dir := t.TempDir()
	template := writeTemplate(t, dir, sampleTemplate)

	if _, err := Generate(template, filepath.Join(dir, "run"), Options{BaseDir: "/data/cache"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	raw, err := os.ReadFile(template)
	if err != nil {
		t.Fatalf("read template: %v", err)
	}
	if string(raw) != sampleTemplate {
		t.Fatalf("template must not be modified")
	}
}

func TestGenerateWithoutTemplateCreatesKeys(t *testing.T) {
	dir := t.TempDir()
	out, err := Generate(filepath.Join(dir, "missing.yml"), dir, Options{BaseDir: "/data/cache"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got := decode(t, out)
	if v := dig(got, "dir_rule", "base_dir"); v != "/data/cache" {
		t.Fatalf("base_dir should be created: %v", v)
	}
}

func TestSetInRejectsScalarParent(t *testing.T) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte("dir_rule: flat\n"), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := SetIn(&doc, []string{"dir_rule", "base_dir"}, stringNode("/x")); err == nil {
		t.Fatalf("expected error when parent is a scalar")
	}
}

func TestCleanupKeepsCurrentFile(t *testing.T) {
	dir := t.TempDir()
	var outputs []string
	for i := 0; i < 3; i++ {
		out, err := Generate("", dir, Options{BaseDir: "/data"})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		outputs = append(outputs, out)
	}
	keep := outputs[len(outputs)-1]
	if err := Cleanup(dir, keep); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "option-*.yml"))
	if len(matches) != 1 || matches[0] != keep {
		t.Fatalf("expected only %s to remain, got %v", keep, matches)
	}
}

func writeTemplate(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	return path
}

func decode(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var out map[string]interface{}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode output: %v\n%s", err, raw)
	}
	return out
}

func dig(m map[string]interface{}, keys ...string) interface{} {
	var cur interface{} = m
	for _, k := range keys {
		next, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = next[k]
	}
	return cur
}
