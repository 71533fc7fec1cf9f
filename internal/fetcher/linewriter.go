package fetcher

import (
	"bytes"
	"strings"
)

// 单行缓冲上限，超过后强制切分。
const maxLineSize = 1 << 20

// lineWriter 把字节流切分成行交给 handle，未以换行结尾的残余在 Flush 时处理。
type lineWriter struct {
	buf    bytes.Buffer
	handle func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			if w.buf.Len() >= maxLineSize {
				w.emit(string(w.buf.Next(w.buf.Len())))
			}
			return len(p), nil
		}
		line := string(data[:idx])
		w.buf.Next(idx + 1)
		w.emit(line)
	}
}

// Flush 处理最后一段不完整的行。
func (w *lineWriter) Flush() {
	if w.buf.Len() == 0 {
		return
	}
	w.emit(w.buf.String())
	w.buf.Reset()
}

func (w *lineWriter) emit(line string) {
	w.handle(strings.TrimRight(line, "\r"))
}
