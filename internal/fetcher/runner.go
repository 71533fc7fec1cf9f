package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jm2pdf/jm2pdf/internal/logging"
)

var (
	// ErrNoResult 表示进程退出时没有输出结果行。
	ErrNoResult = errors.New("renderer exited without result")
	// ErrTimeout 表示进程超过 FetchTimeout 被终止。
	ErrTimeout = errors.New("renderer timed out")
)

// 超时后等待管道关闭的最长时间。
const waitDelay = 5 * time.Second

// Options 描述渲染调用所需的全部参数。
type Options struct {
	Interpreter string
	Script      string
	ConfigPath  string
	// Dir 为子进程工作目录，留空时使用脚本所在目录。
	Dir     string
	Env     []string
	Timeout time.Duration
	Debug   bool
	Logger  logrus.FieldLogger
}

// Runner 启动渲染脚本并等待其报告成品文件名。
type Runner struct {
	opts   Options
	logger *logrus.Entry
}

// NewRunner 构造 Runner。
func NewRunner(opts Options) *Runner {
	if opts.Dir == "" && opts.Script != "" {
		opts.Dir = filepath.Dir(opts.Script)
	}
	return &Runner{opts: opts, logger: logging.Component(opts.Logger, "fetcher")}
}

// Args 返回传给解释器的参数：-u <script> <id> <config>。
func (r *Runner) Args(id int64) []string {
	return []string{"-u", r.opts.Script, strconv.FormatInt(id, 10), r.opts.ConfigPath}
}

// Run 执行一次下载。首个合法结果行即视为成功，与其前后的输出
// 以及进程退出状态无关。
func (r *Runner) Run(ctx context.Context, id int64) (Result, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	logger := r.logger.WithField("comic_id", id)
	var (
		found  bool
		result Result
	)
	// 两个 writer 分别只被 exec 的一个复制协程调用，Wait 返回后读取 found/result 是安全的。
	stdout := &lineWriter{handle: func(line string) {
		msg := ParseLine(line)
		switch msg.Kind {
		case KindResult:
			if !found {
				found = true
				result = msg.Result
			}
		case KindMalformed:
			logger.WithError(msg.Err).WithField("line", msg.Text).Warn("renderer_malformed_result")
		default:
			if r.opts.Debug && msg.Text != "" {
				logger.WithField("stream", "stdout").Info(msg.Text)
			}
		}
	}}
	stderr := &lineWriter{handle: func(line string) {
		if r.opts.Debug && line != "" {
			logger.WithField("stream", "stderr").Warn(line)
		}
	}}

	cmd := exec.CommandContext(ctx, r.opts.Interpreter, r.Args(id)...)
	cmd.Dir = r.opts.Dir
	cmd.Env = append(os.Environ(), r.opts.Env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start renderer: %w", err)
	}
	logger.WithField("pid", cmd.Process.Pid).Debug("renderer_started")
	waitErr := cmd.Wait()
	stdout.Flush()
	stderr.Flush()

	entry := logger.WithField("elapsed_ms", time.Since(start).Milliseconds())
	if found {
		entry.WithField("file_name", result.Name).Debug("renderer_result")
		return result, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		entry.Warn("renderer_timeout")
		return Result{}, fmt.Errorf("%w after %s", ErrTimeout, r.opts.Timeout)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	entry.WithError(waitErr).Warn("renderer_no_result")
	if waitErr != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrNoResult, waitErr)
	}
	return Result{}, ErrNoResult
}
