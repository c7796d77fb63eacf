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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
	"github.com/WaltId-MikeRichardson/waltid-identity/did"
	"github.com/WaltId-MikeRichardson/waltid-identity/holder"
	"github.com/WaltId-MikeRichardson/waltid-identity/logging"
	"github.com/WaltId-MikeRichardson/waltid-identity/openid4vc"
)

const redeemTimeout = 30 * time.Second

func newRedeemCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "redeem <offer>",
		Short: "Redeems a credential offer and prints the received credentials.",
		Long: "Redeems a credential offer using the pre-authorized code flow. " +
			"The offer can be given as raw JSON or as an offer URI " +
			"(openid-credential-offer://?credential_offer=... or ...?credential_offer_uri=...). " +
			"A fresh did:jwk holder identity is generated for the exchange.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), redeemTimeout)
			defer cancel()
			offer, err := parseCredentialOffer(ctx, args[0])
			if err != nil {
				return err
			}
			credentials, err := redeemOffer(ctx, *offer)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(credentials)
		},
	}
}

func redeemOffer(ctx context.Context, offer openid4vc.CredentialOffer) ([]holder.WalletCredential, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	keyStore := crypto.NewMemoryKeyStore()
	if err := keyStore.Add(bootstrapKeyID, privateKey); err != nil {
		return nil, err
	}
	document, err := (did.JWKMethod{Keys: keyStore}).Create(ctx, did.CreationOptions{KeyID: bootstrapKeyID})
	if err != nil {
		return nil, err
	}
	holderKeyID := document.VerificationMethod[0].ID.String()
	if err := keyStore.Add(holderKeyID, privateKey); err != nil {
		return nil, err
	}
	logging.Log().Infof("Holder identity: %s", document.ID)
	wallet := holder.NewMemoryWallet()
	redeemer := holder.NewRedeemer(wallet, keyStore, holderKeyID, http.DefaultClient)
	return redeemer.RedeemOffer(ctx, offer)
}

// parseCredentialOffer accepts the offer as raw JSON, as an offer URI carrying the
// offer by value (credential_offer), or as an offer URI carrying it by reference
// (credential_offer_uri).
func parseCredentialOffer(ctx context.Context, raw string) (*openid4vc.CredentialOffer, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		return unmarshalCredentialOffer([]byte(raw))
	}
	offerURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid credential offer URI: %w", err)
	}
	query := offerURL.Query()
	if offerJSON := query.Get("credential_offer"); offerJSON != "" {
		return unmarshalCredentialOffer([]byte(offerJSON))
	}
	if offerURI := query.Get("credential_offer_uri"); offerURI != "" {
		return fetchCredentialOffer(ctx, offerURI)
	}
	return nil, fmt.Errorf("credential offer URI contains neither credential_offer nor credential_offer_uri")
}

func fetchCredentialOffer(ctx context.Context, offerURI string) (*openid4vc.CredentialOffer, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, offerURI, nil)
	if err != nil {
		return nil, err
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve credential offer: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unable to retrieve credential offer: server returned HTTP %d", response.StatusCode)
	}
	data, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	return unmarshalCredentialOffer(data)
}

func unmarshalCredentialOffer(data []byte) (*openid4vc.CredentialOffer, error) {
	var offer openid4vc.CredentialOffer
	if err := json.Unmarshal(data, &offer); err != nil {
		return nil, fmt.Errorf("invalid credential offer: %w", err)
	}
	return &offer, nil
}
