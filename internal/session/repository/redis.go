package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askeywa/Immigration-V2-sub004/internal/session/domain"
)

const (
	sessionKeyPrefix = "tenantguard:session:"
	userKeyPrefix    = "tenantguard:user_sessions:"
)

// RedisRepository stores each session as a JSON value under its own key and
// keeps a per-user set of session ids. Keys outlive ExpiresAt by grace so an
// expired session can still be reported as expired rather than unknown.
// Updates run under WATCH so they never recreate a revoked session.
type RedisRepository struct {
	client *redis.Client
	grace  time.Duration
	now    func() time.Time
}

// NewRedisRepository returns a session repository backed by client. A
// non-positive grace uses ExpiredRetention.
func NewRedisRepository(client *redis.Client, grace time.Duration) *RedisRepository {
	return &RedisRepository{client: client, grace: retention(grace), now: time.Now}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }
func userKey(userID string) string { return userKeyPrefix + userID }

func (r *RedisRepository) ttl(s *domain.Session) time.Duration {
	d := s.ExpiresAt.Sub(r.now()) + r.grace
	if d <= 0 {
		return time.Second
	}
	return d
}

func (r *RedisRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	ids, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Session, 0, len(vals))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var s domain.Session
		if err := json.Unmarshal([]byte(str), &s); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	if len(stale) > 0 {
		if err := r.client.SRem(ctx, userKey(userID), stale...).Err(); err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoginAt.Before(out[j].LoginAt) })
	return out, nil
}

func (r *RedisRepository) Create(ctx context.Context, s *domain.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := r.ttl(s)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionKey(s.ID), raw, ttl)
		p.SAdd(ctx, userKey(s.UserID), s.ID)
		p.Expire(ctx, userKey(s.UserID), domain.MaxAgeMobile+r.grace)
		return nil
	})
	return err
}

func (r *RedisRepository) Update(ctx context.Context, s *domain.Session, loadedHash string) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	key := sessionKey(s.ID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrStale
		}
		if err != nil {
			return err
		}
		var stored domain.Session
		if err := json.Unmarshal(cur, &stored); err != nil {
			return err
		}
		if stored.TokenHash != loadedHash {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, raw, r.ttl(s))
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrStale
	}
	return err
}

func (r *RedisRepository) Revoke(ctx context.Context, id string) error {
	s, err := r.GetByID(ctx, id)
	if err != nil || s == nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionKey(id))
		p.SRem(ctx, userKey(s.UserID), id)
		return nil
	})
	return err
}

func (r *RedisRepository) RevokeAllByUser(ctx context.Context, userID string) error {
	ids, err := r.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, userKey(userID))
	return r.client.Del(ctx, keys...).Err()
}
