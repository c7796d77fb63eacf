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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisTestDatabase(t *testing.T) Database {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	db := NewRedisDatabase(client)
	t.Cleanup(db.Close)
	return db
}

func TestRedisStore_PutGet(t *testing.T) {
	db := redisTestDatabase(t)
	store := db.GetStore(time.Minute, "openid4vci", "issuance")

	require.NoError(t, store.Put("key", "value"))

	var actual string
	require.NoError(t, store.Get("key", &actual))
	assert.Equal(t, "value", actual)
	assert.True(t, store.Exists("key"))

	t.Run("unknown key", func(t *testing.T) {
		assert.ErrorIs(t, store.Get("unknown", &actual), ErrNotFound)
		assert.False(t, store.Exists("unknown"))
	})
}

func TestRedisStore_GetAndDelete(t *testing.T) {
	db := redisTestDatabase(t)
	store := db.GetStore(time.Minute, "par")

	require.NoError(t, store.Put("key", "value"))

	var actual string
	require.NoError(t, store.GetAndDelete("key", &actual))
	assert.Equal(t, "value", actual)
	assert.ErrorIs(t, store.GetAndDelete("key", &actual), ErrNotFound)
}

func TestRedisStore_Delete(t *testing.T) {
	db := redisTestDatabase(t)
	store := db.GetStore(time.Minute, "par")

	require.NoError(t, store.Put("key", "value"))
	require.NoError(t, store.Delete("key"))

	assert.False(t, store.Exists("key"))
	// deleting a missing key is not an error
	assert.NoError(t, store.Delete("key"))
}
