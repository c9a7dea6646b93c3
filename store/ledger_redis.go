package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

// Assignment records are a hash with the JSON body in "data" and the mutable
// fields (status, accepted_by, expires_at) beside it, so the scripts below
// can decide without decoding JSON.
var (
	claimScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return 'not_found' end
if st ~= 'open' then return st end
if tonumber(redis.call('HGET', KEYS[1], 'expires_at')) <= tonumber(ARGV[2]) then return 'expired' end
if redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 0 then return 'forbidden' end
redis.call('HSET', KEYS[1], 'status', 'accepted', 'accepted_by', ARGV[1])
redis.call('SREM', KEYS[3], ARGV[3])
return 'ok'
`)

	reofferScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return 'not_found' end
if st ~= 'open' then return st end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'expires_at', ARGV[2])
redis.call('DEL', KEYS[2])
for i = 3, #ARGV do redis.call('SADD', KEYS[2], ARGV[i]) end
return 'ok'
`)

	expireScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return 'not_found' end
if st ~= 'open' then return st end
redis.call('HSET', KEYS[1], 'status', 'expired')
redis.call('SREM', KEYS[2], ARGV[1])
return 'ok'
`)
)

// RedisLedger keeps assignments in Redis and resolves claims with a Lua script,
// which makes the accept decision atomic across server processes.
type RedisLedger struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisLedger returns a ledger whose records expire retention after their
// last write. Zero means 24h.
func NewRedisLedger(rdb *redis.Client, retention time.Duration) *RedisLedger {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisLedger{rdb: rdb, retention: retention}
}

func (l *RedisLedger) Create(ctx context.Context, a models.Assignment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	key := assignmentKey(a.ID)
	created, err := l.rdb.HSetNX(ctx, key, "status", string(models.AssignmentOpen)).Result()
	if err != nil {
		return fmt.Errorf("create assignment %s: %w", a.ID, err)
	}
	if !created {
		return apperr.ErrConflict
	}

	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"data":        data,
			"accepted_by": "",
			"expires_at":  a.ExpiresAt.UnixMilli(),
		})
		pipe.Del(ctx, candidatesKey(a.ID))
		if len(a.Candidates) > 0 {
			pipe.SAdd(ctx, candidatesKey(a.ID), toInterfaces(a.Candidates)...)
		}
		pipe.SAdd(ctx, openAssignmentsKey, a.ID)
		pipe.Expire(ctx, key, l.retention)
		pipe.Expire(ctx, candidatesKey(a.ID), l.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create assignment %s: %w", a.ID, err)
	}
	return nil
}

func (l *RedisLedger) Get(ctx context.Context, id string) (models.Assignment, error) {
	fields, err := l.rdb.HGetAll(ctx, assignmentKey(id)).Result()
	if err != nil {
		return models.Assignment{}, fmt.Errorf("get assignment %s: %w", id, err)
	}
	if len(fields) == 0 || fields["data"] == "" {
		return models.Assignment{}, apperr.ErrNotFound
	}

	var a models.Assignment
	if err := json.Unmarshal([]byte(fields["data"]), &a); err != nil {
		return models.Assignment{}, fmt.Errorf("decode assignment %s: %w", id, err)
	}
	a.Status = models.AssignmentStatus(fields["status"])
	a.AcceptedBy = fields["accepted_by"]
	if ms, err := strconv.ParseInt(fields["expires_at"], 10, 64); err == nil {
		a.ExpiresAt = time.UnixMilli(ms).UTC()
	}
	return a, nil
}

func (l *RedisLedger) ListOpen(ctx context.Context) ([]models.Assignment, error) {
	ids, err := l.rdb.SMembers(ctx, openAssignmentsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list open assignments: %w", err)
	}

	out := make([]models.Assignment, 0, len(ids))
	for _, id := range ids {
		a, err := l.Get(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			l.rdb.SRem(ctx, openAssignmentsKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if a.Status == models.AssignmentOpen {
			out = append(out, a)
		}
	}
	sortAssignments(out)
	return out, nil
}

func (l *RedisLedger) Claim(ctx context.Context, id, courierID string, now time.Time) (models.Assignment, error) {
	res, err := claimScript.Run(ctx, l.rdb,
		[]string{assignmentKey(id), candidatesKey(id), openAssignmentsKey},
		courierID, now.UnixMilli(), id,
	).Text()
	if err != nil {
		return models.Assignment{}, fmt.Errorf("claim assignment %s: %w", id, err)
	}
	if err := scriptResult(res); err != nil {
		return models.Assignment{}, err
	}
	return l.Get(ctx, id)
}

func (l *RedisLedger) Reoffer(ctx context.Context, a models.Assignment) error {
	a.Status = models.AssignmentOpen
	a.AcceptedBy = ""
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	args := append([]interface{}{data, a.ExpiresAt.UnixMilli()}, toInterfaces(a.Candidates)...)
	res, err := reofferScript.Run(ctx, l.rdb,
		[]string{assignmentKey(a.ID), candidatesKey(a.ID)}, args...,
	).Text()
	if err != nil {
		return fmt.Errorf("reoffer assignment %s: %w", a.ID, err)
	}
	if err := scriptResult(res); err != nil {
		return err
	}
	l.rdb.Expire(ctx, candidatesKey(a.ID), l.retention)
	return nil
}

func (l *RedisLedger) Expire(ctx context.Context, id string) (models.Assignment, error) {
	res, err := expireScript.Run(ctx, l.rdb,
		[]string{assignmentKey(id), openAssignmentsKey}, id,
	).Text()
	if err != nil {
		return models.Assignment{}, fmt.Errorf("expire assignment %s: %w", id, err)
	}
	if err := scriptResult(res); err != nil {
		return models.Assignment{}, err
	}
	return l.Get(ctx, id)
}

func (l *RedisLedger) Delete(ctx context.Context, id string) error {
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, assignmentKey(id), candidatesKey(id))
		pipe.SRem(ctx, openAssignmentsKey, id)
		return nil
	})
	return err
}

func scriptResult(res string) error {
	switch res {
	case "ok":
		return nil
	case "not_found":
		return apperr.ErrNotFound
	case "forbidden":
		return apperr.ErrForbidden
	case "invalid":
		return apperr.ErrInvalidCode
	case string(models.AssignmentAccepted):
		return apperr.ErrAlreadyAccepted
	case string(models.AssignmentExpired):
		return apperr.ErrExpired
	}
	return fmt.Errorf("unexpected script result %q", res)
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

var _ Ledger = (*RedisLedger)(nil)
