package app

import (
	"context"
	"errors"

	"wa-relay/internal/config"
	"wa-relay/internal/credentials"
	"wa-relay/internal/db"
	"wa-relay/internal/logger"
	"wa-relay/internal/redis"
)

// Infra holds the process-wide backends. DB and Redis are nil when not
// configured.
type Infra struct {
	Credentials *credentials.Store
	DB          *db.DB
	Redis       *redis.Client
}

func setupInfra(ctx context.Context, cfg config.Config) (*Infra, error) {
	infra := &Infra{
		Credentials: credentials.NewOSStore(cfg.SessionsDir),
	}

	if cfg.WipeOnStart {
		if err := infra.Credentials.WipeAll(); err != nil {
			return nil, err
		}
		logger.Warn("credential store wiped on start", map[string]any{
			"dir": cfg.SessionsDir,
		})
	}

	if cfg.DatabaseDSN != "" {
		sqlDB, err := db.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		infra.DB = sqlDB

		if err := db.RunRelayMigration(ctx, sqlDB); err != nil {
			_ = infra.Close()
			return nil, err
		}

		logger.Info("database ready", nil)
	}

	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			_ = infra.Close()
			return nil, err
		}
		infra.Redis = redisClient

		logger.Info("redis ready", nil)
	}

	return infra, nil
}

func (i *Infra) Close() error {
	var errs []error
	if i.DB != nil {
		errs = append(errs, i.DB.Close())
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	return errors.Join(errs...)
}
