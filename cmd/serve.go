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
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/WaltId-MikeRichardson/waltid-identity/api"
	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
	"github.com/WaltId-MikeRichardson/waltid-identity/did"
	"github.com/WaltId-MikeRichardson/waltid-identity/issuer"
	"github.com/WaltId-MikeRichardson/waltid-identity/logging"
	"github.com/WaltId-MikeRichardson/waltid-identity/policy"
	"github.com/WaltId-MikeRichardson/waltid-identity/storage/session"
)

const bootstrapKeyID = "bootstrap"
const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the credential issuer server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), *config)
		},
	}
	registerFlags(cmd.Flags())
	return cmd
}

func runServer(ctx context.Context, config Config) error {
	level, err := logrus.ParseLevel(config.Verbosity)
	if err != nil {
		return fmt.Errorf("invalid verbosity: %w", err)
	}
	logrus.SetLevel(level)

	keyStore, signingKeyID, err := bootstrapIdentity(ctx)
	if err != nil {
		return err
	}
	registry := did.NewRegistry()
	registry.Register(did.MethodJWK, did.JWKMethod{Keys: keyStore})

	db, closeDB := newSessionDatabase(config.Redis)
	defer closeDB()

	issuerService, err := issuer.New(issuer.Config{
		IssuerURL:    config.Issuer.URL,
		SigningKeyID: signingKeyID,
		SessionTTL:   config.Issuer.SessionTTL,
		TokenTTL:     config.Issuer.TokenTTL,
	}, keyStore, did.KeyResolver{Registry: registry}, db)
	if err != nil {
		return err
	}

	router := echo.New()
	router.HideBanner = true
	router.HidePort = true
	router.Use(middleware.Recover())
	api.Wrapper{
		Issuer:   issuerService,
		Policies: verificationPolicies(config.Verifier),
	}.Routes(router)
	router.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	errChan := make(chan error, 1)
	go func() {
		logging.Log().Infof("Server listening on %s (issuer=%s)", config.Listen, config.Issuer.URL)
		if err := router.Start(config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}
	logging.Log().Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return router.Shutdown(shutdownCtx)
}

// bootstrapIdentity generates the issuer's signing key and derives its did:jwk,
// returning the key store and the DID URL of the signing key.
func bootstrapIdentity(ctx context.Context) (*crypto.MemoryKeyStore, string, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", err
	}
	keyStore := crypto.NewMemoryKeyStore()
	if err := keyStore.Add(bootstrapKeyID, privateKey); err != nil {
		return nil, "", err
	}
	document, err := (did.JWKMethod{Keys: keyStore}).Create(ctx, did.CreationOptions{KeyID: bootstrapKeyID})
	if err != nil {
		return nil, "", err
	}
	signingKeyID := document.VerificationMethod[0].ID.String()
	if err := keyStore.Add(signingKeyID, privateKey); err != nil {
		return nil, "", err
	}
	logging.Log().Infof("Issuer identity: %s", document.ID)
	return keyStore, signingKeyID, nil
}

func newSessionDatabase(config RedisConfig) (session.Database, func()) {
	if config.Address == "" {
		db := session.NewInMemoryDatabase()
		return db, db.Close
	}
	client := redis.NewClient(&redis.Options{Addr: config.Address})
	db := session.NewRedisDatabase(client)
	return db, func() {
		_ = client.Close()
	}
}

// verificationPolicies builds the policy set applied by the verification endpoint.
func verificationPolicies(config VerifierConfig) policy.Set {
	set := policy.Set{
		Name: "default",
		Credential: []policy.CredentialPolicy{
			policy.ExpiredPolicy{},
			policy.NotBeforePolicy{},
		},
	}
	if len(config.AllowedIssuers) > 0 {
		set.Credential = append(set.Credential, policy.AllowedIssuerPolicy{Issuers: config.AllowedIssuers})
	}
	return set
}
