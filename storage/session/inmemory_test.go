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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore_PutGet(t *testing.T) {
	db := NewInMemoryDatabase()
	defer db.Close()
	store := db.GetStore(time.Minute, "prefix")

	require.NoError(t, store.Put("key", "value"))

	var actual string
	require.NoError(t, store.Get("key", &actual))
	assert.Equal(t, "value", actual)
	assert.True(t, store.Exists("key"))
}

func TestInMemoryStore_Expiry(t *testing.T) {
	db := NewInMemoryDatabase()
	defer db.Close()
	store := db.GetStore(-time.Second, "prefix") // entries are expired on write

	require.NoError(t, store.Put("key", "value"))

	t.Run("Get treats expired as absent", func(t *testing.T) {
		var actual string
		assert.ErrorIs(t, store.Get("key", &actual), ErrNotFound)
	})
	t.Run("Exists treats expired as absent", func(t *testing.T) {
		require.NoError(t, store.Put("key", "value"))
		assert.False(t, store.Exists("key"))
	})
	t.Run("GetAndDelete treats expired as absent", func(t *testing.T) {
		require.NoError(t, store.Put("key", "value"))
		var actual string
		assert.ErrorIs(t, store.GetAndDelete("key", &actual), ErrNotFound)
	})
}

func TestInMemoryStore_GetAndDelete(t *testing.T) {
	t.Run("consumes the entry", func(t *testing.T) {
		db := NewInMemoryDatabase()
		defer db.Close()
		store := db.GetStore(time.Minute, "prefix")
		require.NoError(t, store.Put("key", "value"))

		var actual string
		require.NoError(t, store.GetAndDelete("key", &actual))
		assert.Equal(t, "value", actual)

		assert.ErrorIs(t, store.GetAndDelete("key", &actual), ErrNotFound)
	})
	t.Run("single winner under concurrency", func(t *testing.T) {
		db := NewInMemoryDatabase()
		defer db.Close()
		store := db.GetStore(time.Minute, "prefix")
		require.NoError(t, store.Put("key", "value"))

		const attempts = 50
		var winners atomic.Int32
		var wg sync.WaitGroup
		wg.Add(attempts)
		for i := 0; i < attempts; i++ {
			go func() {
				defer wg.Done()
				var value string
				if err := store.GetAndDelete("key", &value); err == nil {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), winners.Load())
	})
}

func TestInMemoryStore_Partitions(t *testing.T) {
	db := NewInMemoryDatabase()
	defer db.Close()
	issuance := db.GetStore(time.Minute, "openid4vci", "issuance")
	verification := db.GetStore(time.Minute, "openid4vp")

	require.NoError(t, issuance.Put("key", "issuance"))
	require.NoError(t, verification.Put("key", "verification"))

	var actual string
	require.NoError(t, issuance.Get("key", &actual))
	assert.Equal(t, "issuance", actual)
	require.NoError(t, verification.Get("key", &actual))
	assert.Equal(t, "verification", actual)
}

func TestInMemoryDatabase_Prune(t *testing.T) {
	db := NewInMemoryDatabase()
	defer db.Close()
	expired := db.GetStore(-time.Second, "expired")
	fresh := db.GetStore(time.Minute, "fresh")
	require.NoError(t, expired.Put("key", "value"))
	require.NoError(t, fresh.Put("key", "value"))

	count := db.prune()

	assert.Equal(t, 1, count)
	assert.True(t, fresh.Exists("key"))
}
