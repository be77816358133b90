package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"checkout-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

// NewClient returns a Redis client for addr.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// Redis implements CartCache and IdempotencyStore.
type Redis struct {
	rdb            redis.Cmdable
	cartTTL        time.Duration
	idempotencyTTL time.Duration
}

// NewRedis wraps rdb. Zero TTLs fall back to TTLCart and TTLIdempotency.
func NewRedis(rdb redis.Cmdable, cartTTL, idempotencyTTL time.Duration) *Redis {
	if cartTTL <= 0 {
		cartTTL = TTLCart
	}
	if idempotencyTTL <= 0 {
		idempotencyTTL = TTLIdempotency
	}
	return &Redis{rdb: rdb, cartTTL: cartTTL, idempotencyTTL: idempotencyTTL}
}

func (r *Redis) GetCart(ctx context.Context, sessionID string) (*domain.Cart, bool, error) {
	raw, err := r.rdb.Get(ctx, fmt.Sprintf(KeyCart, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var c domain.Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false, fmt.Errorf("decode cached cart: %w", err)
	}
	return &c, true, nil
}

func (r *Redis) SetCart(ctx context.Context, cart *domain.Cart) error {
	raw, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, fmt.Sprintf(KeyCart, cart.SessionID), raw, r.cartTTL).Err()
}

func (r *Redis) InvalidateCart(ctx context.Context, sessionID string) error {
	return r.rdb.Del(ctx, fmt.Sprintf(KeyCart, sessionID)).Err()
}

func (r *Redis) LookupOrder(ctx context.Context, sessionID, key string) (int64, bool, error) {
	v, err := r.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrder, sessionID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("decode idempotency entry: %w", err)
	}
	return id, true, nil
}

// RememberOrder keeps the first order stored under key.
func (r *Redis) RememberOrder(ctx context.Context, sessionID, key string, orderID int64) error {
	return r.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemOrder, sessionID, key), strconv.FormatInt(orderID, 10), r.idempotencyTTL).Err()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
