package session

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Level 提示级别
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return "info"
}

// Notifier 面向用户的提示（toast）
type Notifier interface {
	Notify(level Level, msg string)
}

// LogNotifier 只写日志
type LogNotifier struct{}

func (LogNotifier) Notify(level Level, msg string) {
	switch level {
	case LevelWarning:
		log.Warn().Msg(msg)
	case LevelError:
		log.Error().Msg(msg)
	default:
		log.Info().Str("level", level.String()).Msg(msg)
	}
}

// Invalidator 通知渲染端重新拉取完整要素集合
type Invalidator interface {
	Invalidate(ctx context.Context)
}

// InvalidatorFunc 函数适配
type InvalidatorFunc func(ctx context.Context)

func (f InvalidatorFunc) Invalidate(ctx context.Context) { f(ctx) }
