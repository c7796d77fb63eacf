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

package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cmd := newServeCommand()
		require.NoError(t, cmd.ParseFlags(nil))

		config, err := loadConfig(cmd)

		require.NoError(t, err)
		assert.Equal(t, ":8080", config.Listen)
		assert.Equal(t, "info", config.Verbosity)
		assert.Equal(t, 5*time.Minute, config.Issuer.SessionTTL)
		assert.Equal(t, 15*time.Minute, config.Issuer.TokenTTL)
		assert.Empty(t, config.Redis.Address)
	})
	t.Run("flags override defaults", func(t *testing.T) {
		cmd := newServeCommand()
		require.NoError(t, cmd.ParseFlags([]string{
			"--listen", ":9090",
			"--issuer.url", "https://issuer.example.com",
			"--issuer.tokenttl", "30m",
		}))

		config, err := loadConfig(cmd)

		require.NoError(t, err)
		assert.Equal(t, ":9090", config.Listen)
		assert.Equal(t, "https://issuer.example.com", config.Issuer.URL)
		assert.Equal(t, 30*time.Minute, config.Issuer.TokenTTL)
	})
	t.Run("config file", func(t *testing.T) {
		configFile := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configFile, []byte(`
listen: ":7070"
issuer:
  url: https://issuer.example.com
redis:
  address: localhost:6379
verifier:
  allowedissuers:
    - did:example:issuer
`), 0600))
		cmd := newServeCommand()
		require.NoError(t, cmd.ParseFlags([]string{"--config", configFile}))

		config, err := loadConfig(cmd)

		require.NoError(t, err)
		assert.Equal(t, ":7070", config.Listen)
		assert.Equal(t, "https://issuer.example.com", config.Issuer.URL)
		assert.Equal(t, "localhost:6379", config.Redis.Address)
		assert.Equal(t, []string{"did:example:issuer"}, config.Verifier.AllowedIssuers)
	})
	t.Run("environment overrides the config file", func(t *testing.T) {
		configFile := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configFile, []byte("listen: \":7070\"\n"), 0600))
		t.Setenv("WALTID_LISTEN", ":6060")
		cmd := newServeCommand()
		require.NoError(t, cmd.ParseFlags([]string{"--config", configFile}))

		config, err := loadConfig(cmd)

		require.NoError(t, err)
		assert.Equal(t, ":6060", config.Listen)
	})
	t.Run("explicit flags win over environment", func(t *testing.T) {
		t.Setenv("WALTID_LISTEN", ":6060")
		cmd := newServeCommand()
		require.NoError(t, cmd.ParseFlags([]string{"--listen", ":5050"}))

		config, err := loadConfig(cmd)

		require.NoError(t, err)
		assert.Equal(t, ":5050", config.Listen)
	})
	t.Run("missing config file is ignored", func(t *testing.T) {
		cmd := newServeCommand()
		require.NoError(t, cmd.ParseFlags([]string{"--config", "/does/not/exist.yaml"}))

		_, err := loadConfig(cmd)

		require.NoError(t, err)
	})
}
