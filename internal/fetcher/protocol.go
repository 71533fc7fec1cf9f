// Package fetcher drives the external renderer process and interprets its
// line-oriented stdout protocol.
package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jm2pdf/jm2pdf/internal/cache"
)

// ResultPrefix 标记结果行，其后紧跟一个 JSON 对象。
const ResultPrefix = "result:"

// Kind 区分 stdout 上每一行的含义。
type Kind int

const (
	// KindDiagnostic 为普通输出，仅用于调试日志。
	KindDiagnostic Kind = iota
	// KindResult 为合法的结果行。
	KindResult
	// KindMalformed 为带结果前缀但无法解析的行。
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindResult:
		return "result"
	case KindMalformed:
		return "malformed"
	default:
		return "diagnostic"
	}
}

// Result 为渲染脚本报告的成品信息。
type Result struct {
	// Name 为缓存目录下的成品文件名，形如 "(366517) Example.pdf"。
	Name string `json:"name"`
}

// Message 是一行 stdout 的解析结果。
type Message struct {
	Kind   Kind
	Text   string
	Result Result
	Err    error
}

var errMissingName = errors.New("result has no name")

// ParseLine 解析一行输出。只有以 ResultPrefix 开头的行才可能成为结果。
func ParseLine(line string) Message {
	text := strings.TrimSpace(line)
	if !strings.HasPrefix(text, ResultPrefix) {
		return Message{Kind: KindDiagnostic, Text: text}
	}

	payload := strings.TrimSpace(strings.TrimPrefix(text, ResultPrefix))
	var res Result
	if err := json.Unmarshal([]byte(payload), &res); err != nil {
		return Message{Kind: KindMalformed, Text: text, Err: fmt.Errorf("decode result: %w", err)}
	}
	if res.Name == "" {
		return Message{Kind: KindMalformed, Text: text, Err: errMissingName}
	}
	if !cache.ValidFileName(res.Name) {
		return Message{Kind: KindMalformed, Text: text, Err: fmt.Errorf("unsafe result name %q", res.Name)}
	}
	return Message{Kind: KindResult, Text: text, Result: res}
}
