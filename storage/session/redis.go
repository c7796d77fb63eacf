/*
 * Copyright (C) 2024 waltid-identity community
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 *
 */

package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Database = (*redisDatabase)(nil)
var _ Store = (*redisStore)(nil)

// NewRedisDatabase creates a session database on the given Redis client.
// Expiry is delegated to Redis key TTLs.
func NewRedisDatabase(client *redis.Client) Database {
	return &redisDatabase{client: client}
}

type redisDatabase struct {
	client *redis.Client
}

func (db *redisDatabase) GetStore(ttl time.Duration, keys ...string) Store {
	return redisStore{
		client: db.client,
		ttl:    ttl,
		prefix: strings.Join(keys, "."),
	}
}

func (db *redisDatabase) Close() {
	_ = db.client.Close()
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func (s redisStore) Delete(key string) error {
	return s.client.Del(context.Background(), s.getFullKey(key)).Err()
}

func (s redisStore) Exists(key string) bool {
	result, err := s.client.Exists(context.Background(), s.getFullKey(key)).Result()
	if err != nil {
		return false
	}
	return result > 0
}

func (s redisStore) Get(key string, target interface{}) error {
	data, err := s.client.Get(context.Background(), s.getFullKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(data), target)
}

func (s redisStore) GetAndDelete(key string, target interface{}) error {
	// GETDEL is atomic, which gives the single-winner guarantee for concurrent consumers
	data, err := s.client.GetDel(context.Background(), s.getFullKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal([]byte(data), target)
}

func (s redisStore) Put(key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(context.Background(), s.getFullKey(key), data, s.ttl).Err()
}

func (s redisStore) getFullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "." + key
}
