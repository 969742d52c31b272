package utils

import (
	"time"
)

// GetCurrentTimestamp 返回当前的 Unix 时间戳（秒）
func GetCurrentTimestamp() int64 {
	return time.Now().Unix()
}

// GetCurrentTimestampMs 返回当前的 Unix 时间戳（毫秒）
func GetCurrentTimestampMs() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}

// FormatMessageTime 将消息时间格式化为接口返回值
func FormatMessageTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
