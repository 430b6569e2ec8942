// Package logger 在 zerolog 之上按 context 携带请求字段。
package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	ServiceName string
	Level       zerolog.Level
	// Format 为 "console" 时输出人类可读格式，否则 JSON。
	Format string
	Output io.Writer
}

// Logger 字段挂在 context 上的 zerolog 子 logger 里，调用方只传 ctx。
type Logger struct {
	root zerolog.Logger
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return &Logger{
		root: zerolog.New(out).Level(level).With().Timestamp().Str("service", opts.ServiceName).Logger(),
	}
}

// Nop 丢弃全部输出。
func Nop() *Logger {
	return &Logger{root: zerolog.Nop()}
}

// ParseLevel 无法识别时退回 info。
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// from 取 ctx 上已挂的子 logger；没有时用根 logger。
func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if sub := zerolog.Ctx(ctx); sub != zerolog.DefaultContextLogger && sub.GetLevel() != zerolog.Disabled {
			return sub
		}
	}
	return &l.root
}

func (l *Logger) with(ctx context.Context, fn func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	sub := fn(l.from(ctx).With()).Logger()
	return sub.WithContext(ctx)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.with(ctx, func(zc zerolog.Context) zerolog.Context { return zc.Interface(key, value) })
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.with(ctx, func(zc zerolog.Context) zerolog.Context { return zc.Fields(fields) })
}

func (l *Logger) WithRequestID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "request_id", id)
}

func (l *Logger) WithUserID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "user_id", id)
}

func (l *Logger) WithCampaignID(ctx context.Context, id string) context.Context {
	return l.WithField(ctx, "group_buy_id", id)
}

func (l *Logger) Debug(ctx context.Context, msg string) { l.from(ctx).Debug().Msg(msg) }

func (l *Logger) Info(ctx context.Context, msg string) { l.from(ctx).Info().Msg(msg) }

func (l *Logger) Warn(ctx context.Context, msg string) { l.from(ctx).Warn().Msg(msg) }

// Error err 为 nil 时只输出消息。
func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.from(ctx).Error().Err(err).Msg(msg)
}
