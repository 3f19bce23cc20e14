package service

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxMessageLength 是单条消息允许的最大字符数 (按 rune 计)
const DefaultMaxMessageLength = 2000

// ContentFilter 清洗聊天消息内容。
// 聊天挂件和后台都以纯文本渲染消息，所以这里去掉全部 HTML 标签，
// script/style 的内容也一并丢弃。
type ContentFilter struct {
	policy    *bluemonday.Policy
	maxLength int
}

// NewContentFilter 创建 ContentFilter，maxLength <= 0 时使用默认值
func NewContentFilter(maxLength int) *ContentFilter {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &ContentFilter{
		policy:    bluemonday.StrictPolicy(),
		maxLength: maxLength,
	}
}

// Clean 返回清洗后的纯文本。
// 清洗后为空返回 ErrEmptyMessage，超长返回 ErrMessageTooLong。
func (f *ContentFilter) Clean(raw string) (string, error) {
	text := f.policy.Sanitize(raw)
	// StrictPolicy 会转义 & < > 等字符，纯文本渲染时需要还原
	text = strings.TrimSpace(html.UnescapeString(text))
	if text == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > f.maxLength {
		return "", ErrMessageTooLong
	}
	return text, nil
}

// CleanName 清洗访客昵称，超长部分截断
func (f *ContentFilter) CleanName(raw string, limit int) string {
	name := strings.TrimSpace(html.UnescapeString(f.policy.Sanitize(raw)))
	if utf8.RuneCountInString(name) > limit {
		name = string([]rune(name)[:limit])
	}
	return name
}
