//go:build unix

package fetcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeScript 写入一个由 /bin/sh 执行的假渲染脚本，sh 同样接受 -u。
func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "main.sh")
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newShellRunner(t *testing.T, script string, timeout time.Duration) *Runner {
	t.Helper()
	return NewRunner(Options{
		Interpreter: "/bin/sh",
		Script:      script,
		ConfigPath:  "/tmp/option.yml",
		Timeout:     timeout,
		Debug:       true,
	})
}

func TestRunReturnsFirstResult(t *testing.T) {
	script := writeScript(t, `echo "downloading $1 with $2"
echo "noise" >&2
echo 'result:{"name":"('$1') Example.pdf"}'
echo 'result:{"name":"(0) Other.pdf"}'
exit 3
`)
	res, err := newShellRunner(t, script, 5*time.Second).Run(context.Background(), 366517)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Name != "(366517) Example.pdf" {
		t.Fatalf("unexpected result: %q", res.Name)
	}
}

func TestRunPassesConfigPathAndWorkDir(t *testing.T) {
	script := writeScript(t, `echo "result:{\"name\":\"($1) $(basename "$2")-$(basename "$(pwd)").pdf\"}"`)
	res, err := newShellRunner(t, script, 5*time.Second).Run(context.Background(), 7)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := "(7) option.yml-" + filepath.Base(filepath.Dir(script)) + ".pdf"
	if res.Name != want {
		t.Fatalf("name = %q, want %q", res.Name, want)
	}
}

func TestRunWithoutResult(t *testing.T) {
	script := writeScript(t, `echo "network error"
exit 1
`)
	_, err := newShellRunner(t, script, 5*time.Second).Run(context.Background(), 1)
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestRunCleanExitWithoutResult(t *testing.T) {
	script := writeScript(t, `echo 'result:{broken'`)
	_, err := newShellRunner(t, script, 5*time.Second).Run(context.Background(), 1)
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	script := writeScript(t, `sleep 30 &
sleep 30
`)
	start := time.Now()
	_, err := newShellRunner(t, script, 200*time.Millisecond).Run(context.Background(), 1)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}

func TestRunMissingInterpreter(t *testing.T) {
	r := NewRunner(Options{Interpreter: filepath.Join(t.TempDir(), "python"), Script: "main.py"})
	_, err := r.Run(context.Background(), 1)
	if err == nil || !strings.Contains(err.Error(), "start renderer") {
		t.Fatalf("expected start error, got %v", err)
	}
}

func TestArgs(t *testing.T) {
	r := NewRunner(Options{Script: "/opt/image2pdf/main.py", ConfigPath: "/data/run/option.yml"})
	got := strings.Join(r.Args(366517), " ")
	if got != "-u /opt/image2pdf/main.py 366517 /data/run/option.yml" {
		t.Fatalf("unexpected args: %s", got)
	}
}
