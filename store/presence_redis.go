package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"food-delivery/dispatch/apperr"
	"food-delivery/dispatch/models"
)

// RedisPresence stores each courier as a "courier:<id>" hash, the layout the
// location ingestion has always written.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func (p *RedisPresence) Get(ctx context.Context, courierID string) (models.CourierPresence, error) {
	data, err := p.rdb.HGetAll(ctx, courierKey(courierID)).Result()
	if err != nil {
		return models.CourierPresence{}, fmt.Errorf("get courier %s: %w", courierID, err)
	}
	if len(data) == 0 {
		return models.CourierPresence{}, apperr.ErrNotFound
	}
	return presenceFromHash(courierID, data), nil
}

func (p *RedisPresence) List(ctx context.Context) ([]models.CourierPresence, error) {
	var out []models.CourierPresence
	iter := p.rdb.Scan(ctx, 0, "courier:*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), "courier:")
		if strings.Contains(id, ":") {
			continue
		}
		c, err := p.Get(ctx, id)
		if errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan couriers: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourierID < out[j].CourierID })
	return out, nil
}

// Update is an optimistic WATCH/MULTI transaction, retried on contention.
func (p *RedisPresence) Update(ctx context.Context, courierID string, fn func(*models.CourierPresence)) (models.CourierPresence, error) {
	key := courierKey(courierID)
	var result models.CourierPresence

	txf := func(tx *redis.Tx) error {
		data, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		c := presenceFromHash(courierID, data)
		fn(&c)
		c.CourierID = courierID

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, presenceToHash(c))
			return nil
		})
		if err == nil {
			result = c
		}
		return err
	}

	for i := 0; i < 5; i++ {
		err := p.rdb.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return models.CourierPresence{}, fmt.Errorf("update courier %s: %w", courierID, err)
	}
	return models.CourierPresence{}, fmt.Errorf("update courier %s: %w", courierID, apperr.ErrConflict)
}

func presenceFromHash(courierID string, data map[string]string) models.CourierPresence {
	lat, _ := strconv.ParseFloat(data["latitude"], 64)
	lon, _ := strconv.ParseFloat(data["longitude"], 64)
	lastUpdate, _ := strconv.ParseInt(data["last_update"], 10, 64)
	return models.CourierPresence{
		CourierID:     courierID,
		FullName:      data["full_name"],
		Mobile:        data["mobile"],
		Latitude:      lat,
		Longitude:     lon,
		IsActive:      data["is_active"] == "true",
		IsBusy:        data["is_busy"] == "true",
		ActiveOrderID: data["active_order_id"],
		LastUpdate:    lastUpdate,
	}
}

func presenceToHash(c models.CourierPresence) map[string]interface{} {
	return map[string]interface{}{
		"full_name":       c.FullName,
		"mobile":          c.Mobile,
		"latitude":        c.Latitude,
		"longitude":       c.Longitude,
		"is_active":       strconv.FormatBool(c.IsActive),
		"is_busy":         strconv.FormatBool(c.IsBusy),
		"active_order_id": c.ActiveOrderID,
		"last_update":     c.LastUpdate,
	}
}

var _ Presence = (*RedisPresence)(nil)
