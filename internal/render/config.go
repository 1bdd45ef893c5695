package render

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrorNotice 是流失败时追加给用户的提示。
const ErrorNotice = "⚠️ Stream failed. Please try again."

// Config 控制打字机效果的节奏。
type Config struct {
	VisibleBatch   int           // 页面可见时每次输出的字符数
	HiddenBatch    int           // 页面隐藏时每次输出的字符数
	VisibleDelay   time.Duration // 页面可见时的输出间隔
	HiddenDelay    time.Duration // 页面隐藏时的输出间隔
	RevealInterval time.Duration // 完整消息模式下逐字展示的间隔
	Hidden         bool          // 初始可见性

	NewID func() string
	Now   func() time.Time
}

// DefaultConfig 返回默认节奏：可见 1 字/20ms，隐藏 15 字/200ms。
func DefaultConfig() Config {
	return Config{
		VisibleBatch:   1,
		HiddenBatch:    15,
		VisibleDelay:   20 * time.Millisecond,
		HiddenDelay:    200 * time.Millisecond,
		RevealInterval: 20 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.VisibleBatch < 1 {
		c.VisibleBatch = def.VisibleBatch
	}
	if c.HiddenBatch < 1 {
		c.HiddenBatch = def.HiddenBatch
	}
	if c.VisibleDelay <= 0 {
		c.VisibleDelay = def.VisibleDelay
	}
	if c.HiddenDelay <= 0 {
		c.HiddenDelay = def.HiddenDelay
	}
	if c.RevealInterval <= 0 {
		c.RevealInterval = def.RevealInterval
	}
	if c.NewID == nil {
		c.NewID = func() string { return ulid.Make().String() }
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}
