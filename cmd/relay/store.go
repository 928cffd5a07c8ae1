package main

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/jammwork/jammwork-sub000/internal/config"
	relayerrors "github.com/jammwork/jammwork-sub000/internal/errors"
	"github.com/jammwork/jammwork-sub000/pkg/session"
)

// sqlDrivers maps store drivers to registered database/sql driver names.
var sqlDrivers = map[string]string{
	config.DriverSQLite:   "sqlite",
	config.DriverPostgres: "pgx",
	config.DriverMySQL:    "mysql",
}

// dbStore closes the underlying pool along with the store.
type dbStore struct {
	*session.SQLStore
	db *sql.DB
}

func (s *dbStore) Close() error {
	if err := s.SQLStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

// openStore connects the room store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (session.RoomStore, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		logger.Warn("using in-memory room store; rooms are lost on restart")
		return session.NewMemoryStore(), nil

	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
		return openSQLStore(ctx, cfg)

	case config.DriverRedis:
		return openRedisStore(ctx, cfg)

	case config.DriverS3:
		return openS3Store(ctx, cfg)

	default:
		return nil, relayerrors.New("R120").WithDetailf("driver %q", cfg.Driver)
	}
}

func openSQLStore(ctx context.Context, cfg config.StoreConfig) (session.RoomStore, error) {
	dialect, err := session.ParseSQLDialect(cfg.Driver)
	if err != nil {
		return nil, relayerrors.New("R120").Wrap(err)
	}

	db, err := sql.Open(sqlDrivers[cfg.Driver], cfg.DSN)
	if err != nil {
		return nil, relayerrors.New("R121").WithDetailf("%s store", cfg.Driver).Wrap(err)
	}
	if cfg.Driver == config.DriverSQLite {
		// One writer at a time; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, relayerrors.New("R121").WithDetailf("%s store", cfg.Driver).Wrap(err)
	}

	opts := []session.SQLStoreOption{session.WithSQLDialect(dialect)}
	if cfg.Table != "" {
		opts = append(opts, session.WithSQLTableName(cfg.Table))
	}
	store := session.NewSQLStore(db, opts...)
	if err := store.CreateTable(ctx); err != nil {
		db.Close()
		return nil, relayerrors.New("R121").WithDetail("create room table").Wrap(err)
	}
	return &dbStore{SQLStore: store, db: db}, nil
}

func openRedisStore(ctx context.Context, cfg config.StoreConfig) (session.RoomStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, relayerrors.New("R121").WithDetail("parse redis url").Wrap(err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, relayerrors.New("R121").WithDetailf("redis at %s", opts.Addr).Wrap(err)
	}

	var storeOpts []session.RedisStoreOption
	if cfg.RedisPrefix != "" {
		storeOpts = append(storeOpts, session.WithRedisPrefix(cfg.RedisPrefix))
	}
	if cfg.RedisTTL > 0 {
		storeOpts = append(storeOpts, session.WithRedisTTL(cfg.RedisTTL.Std()))
	}
	return session.NewRedisStore(session.NewGoRedisClient(client), storeOpts...), nil
}

func openS3Store(ctx context.Context, cfg config.StoreConfig) (session.RoomStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, relayerrors.New("R121").WithDetail("load AWS configuration").Wrap(err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			// S3-compatible services (MinIO, R2) need path-style addressing.
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return session.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix), nil
}
