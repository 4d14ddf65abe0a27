// Package netplaylog provides the structured logger shared by every netplay
// core package: a package-level zap.Logger built once, with context-scoped
// helpers that pull correlation/room/participant IDs out of a
// context.Context instead of threading a logger through every call.
package netplaylog

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

type contextKey string

const (
	RoomIDKey        contextKey = "room_id"
	ParticipantIDKey contextKey = "participant_id"
	CorrelationIDKey contextKey = "correlation_id"
)

// Init sets up the global logger. Safe to call multiple times; only the
// first call takes effect.
func Init(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
		logger, err = cfg.Build(zap.AddCallerSkip(1))
	})
	return err
}

// L returns the global logger, falling back to a development logger if Init
// was never called (tests, early startup).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// WithRoom returns a context carrying the given room ID for log enrichment.
func WithRoom(ctx context.Context, roomID string) context.Context {
	return context.WithValue(ctx, RoomIDKey, roomID)
}

// WithParticipant returns a context carrying the given participant ID.
func WithParticipant(ctx context.Context, participantID string) context.Context {
	return context.WithValue(ctx, ParticipantIDKey, participantID)
}

func fields(ctx context.Context, extra []zap.Field) []zap.Field {
	if ctx == nil {
		return extra
	}
	if rid, ok := ctx.Value(RoomIDKey).(string); ok {
		extra = append(extra, zap.String("room_id", rid))
	}
	if pid, ok := ctx.Value(ParticipantIDKey).(string); ok {
		extra = append(extra, zap.String("participant_id", pid))
	}
	if cid, ok := ctx.Value(CorrelationIDKey).(string); ok {
		extra = append(extra, zap.String("correlation_id", cid))
	}
	return extra
}

func Debug(ctx context.Context, msg string, f ...zap.Field) { L().Debug(msg, fields(ctx, f)...) }
func Info(ctx context.Context, msg string, f ...zap.Field)  { L().Info(msg, fields(ctx, f)...) }
func Warn(ctx context.Context, msg string, f ...zap.Field)  { L().Warn(msg, fields(ctx, f)...) }
func Error(ctx context.Context, msg string, f ...zap.Field) { L().Error(msg, fields(ctx, f)...) }
