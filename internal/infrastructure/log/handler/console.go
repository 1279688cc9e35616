package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ANSI 颜色代码
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
)

// ConsoleHandler 控制台日志处理器（彩色输出）
type ConsoleHandler struct {
	opts  *slog.HandlerOptions
	mu    *sync.Mutex
	out   io.Writer
	attrs []slog.Attr
}

// NewConsoleHandler 创建控制台处理器
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ConsoleHandler{
		out:  out,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

// Enabled 检查日志级别是否启用
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := h.opts.Level
	if minLevel == nil {
		return level >= slog.LevelInfo
	}
	return level >= minLevel.Level()
}

// Handle 处理日志记录
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	all := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	all = append(all, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		all = append(all, a)
		return true
	})

	// 提取模块和组件信息
	var module, component string
	for _, a := range all {
		switch a.Key {
		case "module":
			module = a.Value.String()
		case "component":
			component = a.Value.String()
		}
	}

	modulePrefix := ""
	if module != "" && component != "" {
		modulePrefix = fmt.Sprintf(" [%s/%s]", module, component)
	} else if module != "" {
		modulePrefix = fmt.Sprintf(" [%s]", module)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := fmt.Fprintf(h.out, "%s%s%s %s%s %s\n",
		levelColor(r.Level), r.Level.String(), colorReset,
		r.Time.Format("2006-01-02T15:04:05.000Z07:00"),
		modulePrefix,
		r.Message,
	); err != nil {
		return err
	}

	for _, a := range all {
		// 模块信息已在前缀中显示，服务标识省略
		if a.Key == "module" || a.Key == "component" || a.Key == "service" {
			continue
		}
		if _, err := fmt.Fprintf(h.out, "  %s=%v\n", a.Key, a.Value); err != nil {
			return err
		}
	}
	return nil
}

// WithAttrs 返回带有额外属性的处理器
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	next.attrs = append(next.attrs, attrs...)
	return &next
}

// WithGroup 分组在控制台输出中展平
func (h *ConsoleHandler) WithGroup(_ string) slog.Handler {
	return h
}

// levelColor 返回日志级别对应的颜色
func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return colorRed
	case level >= slog.LevelWarn:
		return colorYellow
	case level >= slog.LevelInfo:
		return colorGreen
	default:
		return colorBlue
	}
}
