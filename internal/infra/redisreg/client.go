package redisreg

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/hasanmaki/mkit-idv-next/internal/config"
)

// Registry stores worker state, config, locks, heartbeats and command
// queues in Redis under wrk:* keys. It is the shared source of truth
// across API replicas and the orchestrator process.
type Registry struct {
	Cfg config.Redis
	Rdb *redis.Client

	heartbeatTTL time.Duration
}

func New(cfg config.Redis) *Registry {
	log.Info().Msgf("connecting to redis at %s", cfg.Addr)
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Registry{
		Cfg:          cfg,
		Rdb:          c,
		heartbeatTTL: time.Duration(cfg.HeartbeatTTLMs) * time.Millisecond,
	}
}

func (r *Registry) Ping(ctx context.Context) error {
	if err := r.Rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	log.Ctx(ctx).Info().Msg("connected to redis")
	return nil
}

func stateKey(bindingID string) string  { return "wrk:state:" + bindingID }
func configKey(bindingID string) string { return "wrk:cfg:" + bindingID }
func lockKey(bindingID string) string   { return "wrk:lock:" + bindingID }
func hbKey(bindingID string) string     { return "wrk:hb:" + bindingID }
func cmdKey(bindingID string) string    { return "wrk:cmd:" + bindingID }
func cmdSeqKey(bindingID string) string { return "wrk:cmdseq:" + bindingID }
