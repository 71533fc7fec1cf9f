package cache

import (
	"errors"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Entry 表示一个已缓存的本子成品文件。
type Entry struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	// Path 为缓存目录下的绝对路径，由 Index 填充。
	Path string `json:"-"`
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidName 表示文件名不符合 "(<id>) <title>" 约定。
var ErrInvalidName = errors.New("cache file name has no id prefix")

var idPrefix = regexp.MustCompile(`^\((\d+)\) `)

// ParseID 从 "(<id>) <title>.pdf" 形式的文件名中提取本子 ID。
func ParseID(fileName string) (int64, error) {
	m := idPrefix.FindStringSubmatch(fileName)
	if m == nil {
		return 0, ErrInvalidName
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidName
	}
	return id, nil
}

// WorkDirName 返回渲染脚本为该成品创建的中间目录名：
// 去掉 "(<id>) " 前缀与扩展名，例如 "(366517) Example.pdf" → "Example"。
func WorkDirName(id int64, fileName string) string {
	name := strings.TrimPrefix(fileName, "("+strconv.FormatInt(id, 10)+") ")
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// ValidFileName 拒绝包含路径分隔符或指向上级目录的文件名。
func ValidFileName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}
