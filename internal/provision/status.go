package provision

import (
	"sync"
	"time"
)

// State 描述运行环境的准备阶段。
type State string

const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Snapshot 是某一时刻的状态副本，供诊断接口输出。
type Snapshot struct {
	State       State     `json:"state"`
	Message     string    `json:"message,omitempty"`
	Interpreter string    `json:"interpreter,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status 是面向运维的状态指示，准备失败后保持 failed 直到重启。
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStatus 返回处于 pending 状态的指示器。
func NewStatus() *Status {
	return &Status{snap: Snapshot{State: StatePending, UpdatedAt: time.Now()}}
}

func (s *Status) set(state State, message, interpreter string) {
	s.mu.Lock()
	s.snap = Snapshot{
		State:       state,
		Message:     message,
		Interpreter: interpreter,
		UpdatedAt:   time.Now(),
	}
	s.mu.Unlock()
}

// Snapshot 返回当前状态。
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Ready 表示环境已就绪，可以注册下载命令。
func (s *Status) Ready() bool {
	return s.Snapshot().State == StateReady
}

// Fail 在准备流程之外的启动步骤失败时标记状态。
func (s *Status) Fail(err error) {
	s.set(StateFailed, err.Error(), "")
}
