package timeutil

import (
	"fmt"
	"time"
)

// UnknownLabel 时间戳缺失时的占位文本
const UnknownLabel = "Unknown"

// Age 返回 ts 到 now 的时长，未来时间按 0 处理
func Age(ts, now time.Time) time.Duration {
	d := now.Sub(ts)
	if d < 0 {
		return 0
	}
	return d
}

// ElapsedLabel 返回紧凑的 "多久以前" 文本：<60s 为 "{s}s ago"，<1h 为 "{m}m ago"，否则 "{h}h ago"
// 不读取系统时钟，now 由调用方传入
func ElapsedLabel(ts *time.Time, now time.Time) string {
	if ts == nil || ts.IsZero() {
		return UnknownLabel
	}
	seconds := int64(Age(*ts, now) / time.Second)
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm ago", seconds/60)
	default:
		return fmt.Sprintf("%dh ago", seconds/3600)
	}
}

// ElapsedMinutes 已经过去的整分钟数（向下取整）
func ElapsedMinutes(ts, now time.Time) int {
	return int(Age(ts, now) / time.Minute)
}

// FormatDuration 管理看板使用的时长格式："Just now"、"12m"、"3h 5m"、"2d 4h"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	mins := int(d / time.Minute)
	hours := mins / 60
	switch {
	case mins < 1:
		return "Just now"
	case mins < 60:
		return fmt.Sprintf("%dm", mins)
	case hours < 24:
		return fmt.Sprintf("%dh %dm", hours, mins%60)
	default:
		return fmt.Sprintf("%dd %dh", hours/24, hours%24)
	}
}
