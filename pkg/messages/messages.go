// Package messages holds the user-facing error strings of the queue view and
// their translations.
package messages

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Key is the English format string of a message
type Key string

const (
	RefreshFailed     Key = "Failed to refresh the queue: %v"
	WaitFailed        Key = "Failed to pause %d job(s): %v"
	ResumeFailed      Key = "Failed to resume %d job(s): %v"
	RestartFailed     Key = "Failed to restart %d job(s): %v"
	CancelFailed      Key = "Failed to cancel %d job(s): %v"
	DeleteFailed      Key = "Failed to delete %d job(s): %v"
	BatchNotDeletable Key = "Batch %s still has unfinished jobs"
	ReorderFailed     Key = "Failed to reorder the queue: %v"
	EnqueueFailed     Key = "Failed to add %d job(s): %v"
	CommandRejected   Key = "the backend rejected the request"
	InvalidFilter     Key = "Invalid filter pattern %q"
	DeltaOutOfSync    Key = "Queue update out of sync, reloading"
	BackendNotPresent Key = "No backend connected"
)

var supported = []language.Tag{
	language.English,
	language.SimplifiedChinese,
}

var matcher = language.NewMatcher(supported)

func init() {
	zh := language.SimplifiedChinese
	for k, v := range map[Key]string{
		RefreshFailed:     "刷新队列失败：%v",
		WaitFailed:        "暂停 %d 个任务失败：%v",
		ResumeFailed:      "继续 %d 个任务失败：%v",
		RestartFailed:     "重新开始 %d 个任务失败：%v",
		CancelFailed:      "取消 %d 个任务失败：%v",
		DeleteFailed:      "删除 %d 个任务失败：%v",
		BatchNotDeletable: "批次 %s 仍有未完成的任务",
		ReorderFailed:     "调整队列顺序失败：%v",
		EnqueueFailed:     "添加 %d 个任务失败：%v",
		CommandRejected:   "后端拒绝了该请求",
		InvalidFilter:     "无效的筛选表达式 %q",
		DeltaOutOfSync:    "队列更新不同步，正在重新加载",
		BackendNotPresent: "未连接后端",
	} {
		if err := message.SetString(zh, string(k), v); err != nil {
			panic(err)
		}
	}
}

// Translator renders message keys in one language
type Translator struct {
	tag     language.Tag
	printer *message.Printer
}

// New returns a translator for a BCP 47 tag such as "en" or "zh-CN".
// Unsupported or malformed tags fall back to English.
func New(lang string) *Translator {
	tag := language.English
	if parsed, err := language.Parse(lang); err == nil {
		_, idx, conf := matcher.Match(parsed)
		if conf != language.No {
			tag = supported[idx]
		}
	}
	return &Translator{tag: tag, printer: message.NewPrinter(tag)}
}

// Language returns the resolved tag
func (t *Translator) Language() language.Tag {
	return t.tag
}

// Sprintf formats k with args
func (t *Translator) Sprintf(k Key, args ...interface{}) string {
	return t.printer.Sprintf(string(k), args...)
}
