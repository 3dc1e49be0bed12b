package telemetry

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// MonitorRedis attaches otel tracing and metrics plus debug logging of every command.
func MonitorRedis(r redis.UniversalClient, logger *zap.Logger) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisLog{logger: logger.Named("redis")})
	return nil
}

type redisLog struct {
	logger *zap.Logger
}

func (l redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			l.logger.Warn("dial failed", zap.String("addr", addr), zap.Error(err))
		} else {
			l.logger.Debug("dialed", zap.String("network", network), zap.String("addr", addr))
		}
		return conn, err
	}
}

func (l redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		started := time.Now()
		err := hook(ctx, cmd)
		if ce := l.logger.Check(zap.DebugLevel, "command"); ce != nil {
			ce.Write(zap.String("cmd", cmd.Name()), zap.Duration("took", time.Since(started)), zap.Error(err))
		}
		return err
	}
}

func (l redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		started := time.Now()
		err := hook(ctx, cmds)
		if ce := l.logger.Check(zap.DebugLevel, "pipeline"); ce != nil {
			ce.Write(zap.Int("cmds", len(cmds)), zap.Duration("took", time.Since(started)), zap.Error(err))
		}
		return err
	}
}
