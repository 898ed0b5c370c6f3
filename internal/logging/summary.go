package logging

import (
	"unicode/utf8"

	"go.uber.org/zap"
)

// SummaryLen 日志中错误信息的最大长度（按字符计）
const SummaryLen = 50

// Summarize 截断错误信息，超长时追加 "..."
func Summarize(err error, max int) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if max <= 0 || utf8.RuneCountInString(msg) <= max {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:max]) + "..."
}

// ErrorSummary 以 "error" 字段输出截断后的错误
func ErrorSummary(err error) zap.Field {
	return zap.String("error", Summarize(err, SummaryLen))
}
