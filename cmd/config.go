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
	"errors"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const configDelimiter = "."
const envPrefix = "WALTID_"
const configFileFlag = "config"

// Config is the server configuration, loaded from flag defaults, then the config
// file, then environment variables (WALTID_ prefix), then explicit flags.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `koanf:"listen"`
	// Verbosity is the log level (trace, debug, info, warn, error).
	Verbosity string         `koanf:"verbosity"`
	Issuer    IssuerConfig   `koanf:"issuer"`
	Redis     RedisConfig    `koanf:"redis"`
	Verifier  VerifierConfig `koanf:"verifier"`
}

// IssuerConfig configures the credential issuer.
type IssuerConfig struct {
	// URL is the Credential Issuer Identifier, the base of all issuer endpoints.
	URL string `koanf:"url"`
	// SessionTTL is the lifetime of authorization sessions.
	SessionTTL time.Duration `koanf:"sessionttl"`
	// TokenTTL is the lifetime of minted tokens and nonces.
	TokenTTL time.Duration `koanf:"tokenttl"`
}

// RedisConfig configures the session database. An empty address selects the
// in-memory database.
type RedisConfig struct {
	Address string `koanf:"address"`
}

// VerifierConfig configures the verification endpoint.
type VerifierConfig struct {
	// AllowedIssuers restricts which credential issuers are trusted.
	// Empty means no issuer restriction is applied.
	AllowedIssuers []string `koanf:"allowedissuers"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() Config {
	return Config{
		Listen:    ":8080",
		Verbosity: "info",
		Issuer: IssuerConfig{
			URL:        "http://localhost:8080",
			SessionTTL: 5 * time.Minute,
			TokenTTL:   15 * time.Minute,
		},
	}
}

// registerFlags adds the configuration flags with their defaults to the flag set.
func registerFlags(flags *pflag.FlagSet) {
	defaults := DefaultConfig()
	flags.String(configFileFlag, "", "Path to the YAML configuration file.")
	flags.String("listen", defaults.Listen, "Address the HTTP server binds to.")
	flags.String("verbosity", defaults.Verbosity, "Log level (trace, debug, info, warn, error).")
	flags.String("issuer.url", defaults.Issuer.URL, "Credential Issuer Identifier (a URL).")
	flags.Duration("issuer.sessionttl", defaults.Issuer.SessionTTL, "Lifetime of authorization sessions.")
	flags.Duration("issuer.tokenttl", defaults.Issuer.TokenTTL, "Lifetime of tokens and nonces.")
	flags.String("redis.address", "", "Redis address for session storage. Empty uses in-memory storage.")
	flags.StringSlice("verifier.allowedissuers", nil, "Credential issuers trusted by the verification endpoint.")
}

// loadConfig resolves the configuration for the given command invocation.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	flags := cmd.Flags()
	configMap := koanf.New(configDelimiter)
	// flag defaults first, so later providers override them
	if err := configMap.Load(posflag.Provider(flags, configDelimiter, configMap), nil); err != nil {
		return nil, err
	}
	if configFile, _ := flags.GetString(configFileFlag); configFile != "" {
		if err := configMap.Load(file.Provider(configFile), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if err := configMap.Load(env.Provider(envPrefix, configDelimiter, func(rawKey string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(rawKey, envPrefix)), "_", configDelimiter)
	}), nil); err != nil {
		return nil, err
	}
	// explicit flags win over everything
	if err := configMap.Load(posflag.ProviderWithFlag(flags, configDelimiter, configMap, func(f *pflag.Flag) (string, interface{}) {
		if !f.Changed {
			return "", nil
		}
		return f.Name, posflag.FlagVal(flags, f)
	}), nil); err != nil {
		return nil, err
	}
	config := DefaultConfig()
	if err := configMap.Unmarshal("", &config); err != nil {
		return nil, err
	}
	return &config, nil
}
