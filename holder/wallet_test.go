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

package holder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryWallet(t *testing.T) {
	newCredential := func(id string, addedOn time.Time) WalletCredential {
		return WalletCredential{ID: id, Document: "document-" + id, AddedOn: addedOn}
	}
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("store and get", func(t *testing.T) {
		wallet := NewMemoryWallet()
		require.NoError(t, wallet.Store(newCredential("a", base)))

		actual, err := wallet.Get("a")

		require.NoError(t, err)
		assert.Equal(t, "document-a", actual.Document)
	})
	t.Run("get unknown", func(t *testing.T) {
		wallet := NewMemoryWallet()

		_, err := wallet.Get("unknown")

		assert.ErrorIs(t, err, ErrCredentialNotFound)
	})
	t.Run("list orders by time added", func(t *testing.T) {
		wallet := NewMemoryWallet()
		require.NoError(t, wallet.Store(newCredential("newer", base.Add(time.Minute))))
		require.NoError(t, wallet.Store(newCredential("older", base)))

		list, err := wallet.List()

		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "older", list[0].ID)
		assert.Equal(t, "newer", list[1].ID)
	})
	t.Run("soft delete hides from list, keeps the record", func(t *testing.T) {
		wallet := NewMemoryWallet()
		require.NoError(t, wallet.Store(newCredential("a", base)))

		require.NoError(t, wallet.Delete("a", false))

		list, err := wallet.List()
		require.NoError(t, err)
		assert.Empty(t, list)
		actual, err := wallet.Get("a")
		require.NoError(t, err)
		assert.True(t, actual.Deleted())
	})
	t.Run("restore undoes a soft delete", func(t *testing.T) {
		wallet := NewMemoryWallet()
		require.NoError(t, wallet.Store(newCredential("a", base)))
		require.NoError(t, wallet.Delete("a", false))

		require.NoError(t, wallet.Restore("a"))

		list, err := wallet.List()
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.False(t, list[0].Deleted())
	})
	t.Run("permanent delete is beyond recovery", func(t *testing.T) {
		wallet := NewMemoryWallet()
		require.NoError(t, wallet.Store(newCredential("a", base)))

		require.NoError(t, wallet.Delete("a", true))

		_, err := wallet.Get("a")
		assert.ErrorIs(t, err, ErrCredentialNotFound)
		assert.ErrorIs(t, wallet.Restore("a"), ErrCredentialNotFound)
	})
	t.Run("delete unknown", func(t *testing.T) {
		wallet := NewMemoryWallet()

		assert.ErrorIs(t, wallet.Delete("unknown", false), ErrCredentialNotFound)
	})
}
