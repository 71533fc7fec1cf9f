// Package provision makes sure a Python interpreter with the renderer's
// dependencies is available before the download command is enabled.
package provision

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jm2pdf/jm2pdf/internal/logging"
)

// ErrInterpreterMissing 表示用户指定的解释器不存在。
var ErrInterpreterMissing = errors.New("python interpreter not found")

const markerName = ".jm2pdf-requirements"

// Options 控制环境准备流程。
type Options struct {
	// Python 为用户指定的解释器，留空时在 EnvDir 下创建虚拟环境。
	Python          string
	BaseInterpreter string
	EnvDir          string
	Requirements    []string
	Proxy           string
	Timeout         time.Duration
	Logger          logrus.FieldLogger
	Runner          CommandRunner
	Status          *Status
}

// Provisioner 负责定位或创建解释器，并安装依赖。
type Provisioner struct {
	opts   Options
	runner CommandRunner
	logger *logrus.Entry
	status *Status
}

// New 构造 Provisioner，未注入 Runner/Status 时使用默认实现。
func New(opts Options) *Provisioner {
	runner := opts.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	status := opts.Status
	if status == nil {
		status = NewStatus()
	}
	if opts.BaseInterpreter == "" {
		opts.BaseInterpreter = "python3"
	}
	return &Provisioner{
		opts:   opts,
		runner: runner,
		logger: logging.Component(opts.Logger, "provision"),
		status: status,
	}
}

// Status 返回状态指示器。
func (p *Provisioner) Status() *Status {
	return p.status
}

// Ensure 返回可用解释器路径。任一步骤失败都会把状态置为 failed 并返回错误。
func (p *Provisioner) Ensure(ctx context.Context) (string, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}
	started := time.Now()

	interpreter, err := p.ensure(ctx)
	fields := logrus.Fields{
		"action":     "provision",
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		p.status.set(StateFailed, err.Error(), "")
		p.logger.WithFields(fields).WithError(err).Error("运行环境准备失败")
		return "", err
	}
	p.status.set(StateReady, "", interpreter)
	fields["interpreter"] = interpreter
	p.logger.WithFields(fields).Info("运行环境已就绪")
	return interpreter, nil
}

func (p *Provisioner) ensure(ctx context.Context) (string, error) {
	interpreter, err := p.locate(ctx)
	if err != nil {
		return "", err
	}
	if err := p.install(ctx, interpreter); err != nil {
		return "", err
	}
	return interpreter, nil
}

func (p *Provisioner) locate(ctx context.Context) (string, error) {
	if user := strings.TrimSpace(p.opts.Python); user != "" {
		path, err := resolveExecutable(user)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrInterpreterMissing, user)
		}
		return path, nil
	}

	if p.opts.EnvDir == "" {
		return "", errors.New("env dir required for auto provisioning")
	}
	interpreter := VenvPython(p.opts.EnvDir)
	if isFile(interpreter) {
		return interpreter, nil
	}

	p.logger.WithFields(logrus.Fields{
		"action":  "provision_venv",
		"env_dir": p.opts.EnvDir,
		"base":    p.opts.BaseInterpreter,
	}).Info("创建 Python 虚拟环境")
	if err := os.MkdirAll(filepath.Dir(p.opts.EnvDir), 0o755); err != nil {
		return "", fmt.Errorf("create env parent: %w", err)
	}
	if _, err := p.runner.Run(ctx, p.opts.BaseInterpreter, "-m", "venv", p.opts.EnvDir); err != nil {
		return "", fmt.Errorf("create venv: %w", err)
	}
	if !isFile(interpreter) {
		return "", fmt.Errorf("%w: venv did not produce %s", ErrInterpreterMissing, interpreter)
	}
	return interpreter, nil
}

func (p *Provisioner) install(ctx context.Context, interpreter string) error {
	reqs := normalizeRequirements(p.opts.Requirements)
	if len(reqs) == 0 {
		return nil
	}
	marker := p.markerPath()
	fingerprint := requirementsFingerprint(interpreter, reqs)
	if marker != "" {
		if raw, err := os.ReadFile(marker); err == nil && strings.TrimSpace(string(raw)) == fingerprint {
			p.logger.WithField("action", "provision_install").Debug("依赖已安装，跳过")
			return nil
		}
	}

	args := []string{"-m", "pip", "install", "--disable-pip-version-check", "-q"}
	if p.opts.Proxy != "" {
		args = append(args, "--proxy", p.opts.Proxy)
	}
	args = append(args, reqs...)

	p.logger.WithFields(logrus.Fields{
		"action":       "provision_install",
		"requirements": reqs,
	}).Info("安装渲染脚本依赖")
	if _, err := p.runner.Run(ctx, interpreter, args...); err != nil {
		return fmt.Errorf("install requirements: %w", err)
	}

	if marker != "" {
		p.writeMarker(marker, fingerprint)
	}
	return nil
}

// writeMarker 记录已安装依赖的指纹。写入失败只影响下次启动是否重装。
func (p *Provisioner) writeMarker(marker, fingerprint string) {
	entry := p.logger.WithFields(logrus.Fields{"action": "provision_marker", "path": marker})
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		entry.WithError(err).Warn("创建依赖标记目录失败")
		return
	}
	if err := os.WriteFile(marker, []byte(fingerprint+"\n"), 0o644); err != nil {
		entry.WithError(err).Warn("写入依赖标记失败")
	}
}

func (p *Provisioner) markerPath() string {
	if p.opts.EnvDir == "" {
		return ""
	}
	return filepath.Join(p.opts.EnvDir, markerName)
}

// VenvPython 返回虚拟环境中解释器的路径。
func VenvPython(envDir string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(envDir, "Scripts", "python.exe")
	}
	return filepath.Join(envDir, "bin", "python")
}

func resolveExecutable(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if !isFile(name) {
			return "", fs.ErrNotExist
		}
		return filepath.Abs(name)
	}
	return exec.LookPath(name)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func normalizeRequirements(reqs []string) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func requirementsFingerprint(interpreter string, reqs []string) string {
	sorted := append([]string(nil), reqs...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(interpreter + "\n" + strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}
