package otp

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hasanmaki/mkit-idv-next/internal/ports"
)

var _ ports.OtpMailbox = (*RedisMailbox)(nil)

// ErrTimeout reports that no OTP arrived within the rendezvous window.
var ErrTimeout = errors.New("otp wait timed out")

const (
	slotTTL      = 5 * time.Minute
	pollInterval = 250 * time.Millisecond
)

func otpKey(bindingID string) string { return "wrk:otp:" + bindingID }

// RedisMailbox is a single-slot rendezvous per binding. The ingress
// API writes with set-if-absent so an already-pending OTP is never
// overwritten; the worker consumes with GETDEL.
type RedisMailbox struct {
	Rdb *redis.Client
}

func NewRedisMailbox(rdb *redis.Client) *RedisMailbox {
	return &RedisMailbox{Rdb: rdb}
}

func (m *RedisMailbox) Offer(ctx context.Context, bindingID, otp string) (bool, error) {
	return m.Rdb.SetNX(ctx, otpKey(bindingID), otp, slotTTL).Result()
}

func (m *RedisMailbox) Wait(ctx context.Context, bindingID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		val, err := m.Rdb.GetDel(ctx, otpKey(bindingID)).Result()
		if err == nil && val != "" {
			return val, nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *RedisMailbox) Clear(ctx context.Context, bindingID string) error {
	return m.Rdb.Del(ctx, otpKey(bindingID)).Err()
}
