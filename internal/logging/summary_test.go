package logging

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	assert.Equal(t, "", Summarize(nil, 10))
	assert.Equal(t, "short", Summarize(errors.New("short"), 10))
	assert.Equal(t, "0123456789...", Summarize(errors.New("0123456789abcdef"), 10))
	assert.Equal(t, "unbounded", Summarize(errors.New("unbounded"), 0))

	long := errors.New(strings.Repeat("x", 80))
	assert.Len(t, Summarize(long, SummaryLen), SummaryLen+3)

	// 多字节字符不会被截成半个
	assert.Equal(t, "连接被...", Summarize(errors.New("连接被拒绝"), 3))
}
