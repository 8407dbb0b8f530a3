package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub000/internal/token"
)

// RedisStore keeps bundles server-side in Redis, one key per field with a
// TTL equal to the remaining lifetime of the token behind it.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	codec  *token.Codec
}

// NewRedisStore creates a RedisStore. Keys are namespaced under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string, codec *token.Codec) *RedisStore {
	if codec == nil {
		codec = token.NewCodec(nil)
	}
	return &RedisStore{client: client, prefix: prefix, codec: codec}
}

// Session returns the Store for one session.
func (s *RedisStore) Session(id string) Store {
	return &redisSession{store: s, id: id}
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

type redisSession struct {
	store *RedisStore
	id    string
}

func (r *redisSession) key(field string) string {
	return fmt.Sprintf("%s:%s:%s", r.store.prefix, r.id, field)
}

func (r *redisSession) keys() []string {
	return []string{r.key("authToken"), r.key("refreshToken"), r.key("userInfo")}
}

func (r *redisSession) Read(ctx context.Context) (Bundle, error) {
	values, err := r.store.client.MGet(ctx, r.keys()...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Bundle{}, fmt.Errorf("reading session %s: %w", r.id, err)
	}

	raw := make([]string, 3)
	for i, v := range values {
		if s, ok := v.(string); ok {
			raw[i] = s
		}
	}
	return decodeBundle(raw[0], raw[1], raw[2]), nil
}

func (r *redisSession) Write(ctx context.Context, b Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}

	access, err := encodeValue(b.AccessToken)
	if err != nil {
		return err
	}
	refresh, err := encodeValue(b.RefreshToken)
	if err != nil {
		return err
	}
	info, err := encodeValue(b.UserInfo)
	if err != nil {
		return err
	}

	l := LifetimesOf(r.store.codec, b)
	accessTTL := r.store.codec.RemainingLifetime(l.Access)
	refreshTTL := r.store.codec.RemainingLifetime(l.Refresh)

	_, err = r.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.keys()...)
		if !l.Access.IsZero() && accessTTL > 0 {
			pipe.Set(ctx, r.key("authToken"), access, accessTTL)
			pipe.Set(ctx, r.key("userInfo"), info, accessTTL)
		}
		if !l.Refresh.IsZero() && refreshTTL > 0 {
			pipe.Set(ctx, r.key("refreshToken"), refresh, refreshTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing session %s: %w", r.id, err)
	}
	return nil
}

func (r *redisSession) Clear(ctx context.Context) error {
	if err := r.store.client.Del(ctx, r.keys()...).Err(); err != nil {
		return fmt.Errorf("clearing session %s: %w", r.id, err)
	}
	return nil
}
