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
	"context"
	"fmt"
	"time"

	"github.com/WaltId-MikeRichardson/waltid-identity/crypto"
	"github.com/WaltId-MikeRichardson/waltid-identity/logging"
	"github.com/WaltId-MikeRichardson/waltid-identity/oauth"
	"github.com/WaltId-MikeRichardson/waltid-identity/openid4vc"
)

// issuerClientFactory allows tests to substitute the issuer API client.
type issuerClientFactory func(ctx context.Context, httpClient openid4vc.HTTPRequestDoer, credentialIssuerIdentifier string) (openid4vc.IssuerAPIClient, error)

// Redeemer redeems credential offers against a credential issuer and stores the
// resulting credentials through the acceptance pipeline.
type Redeemer struct {
	pipeline   *Pipeline
	signer     crypto.JWTSigner
	kid        string
	httpClient openid4vc.HTTPRequestDoer
	newClient  issuerClientFactory
}

// NewRedeemer returns a Redeemer that signs proofs of possession with the given key
// and stores accepted credentials into the given wallet.
func NewRedeemer(wallet Wallet, signer crypto.JWTSigner, kid string, httpClient openid4vc.HTTPRequestDoer) *Redeemer {
	return &Redeemer{
		pipeline:   NewPipeline(wallet),
		signer:     signer,
		kid:        kid,
		httpClient: httpClient,
		newClient:  openid4vc.NewIssuerAPIClient,
	}
}

// RedeemOffer exchanges a credential offer's pre-authorized code for an access token
// and retrieves the offered credentials, accepting each into the wallet. Offered
// credentials are requested in the order the offer lists them. Deferred issuance
// yields a pending wallet record; poll it with ResolveDeferred.
// No wallet state is locked while the outbound calls are in flight.
func (r *Redeemer) RedeemOffer(ctx context.Context, offer openid4vc.CredentialOffer) ([]WalletCredential, error) {
	preAuthorizedCode := offer.PreAuthorizedCode()
	if preAuthorizedCode == "" {
		return nil, fmt.Errorf("credential offer does not contain a pre-authorized code")
	}
	if len(offer.Credentials) == 0 {
		return nil, fmt.Errorf("credential offer does not offer any credentials")
	}
	client, err := r.newClient(ctx, r.httpClient, offer.CredentialIssuer)
	if err != nil {
		return nil, fmt.Errorf("unable to create issuer client (issuer=%s): %w", offer.CredentialIssuer, err)
	}
	tokenResponse, err := client.RequestAccessToken(ctx, openid4vc.PreAuthorizedCodeGrant, map[string]string{
		oauth.PreAuthorizedCodeParam: preAuthorizedCode,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to request access token (issuer=%s): %w", offer.CredentialIssuer, err)
	}
	cNonce := tokenResponse.Get(oauth.CNonceParam)
	if cNonce == "" {
		return nil, fmt.Errorf("access token response does not contain a c_nonce")
	}

	var result []WalletCredential
	for _, offered := range offer.Credentials {
		proof, err := r.signProof(ctx, client.Metadata().CredentialIssuer, cNonce)
		if err != nil {
			return result, err
		}
		response, err := client.RequestCredential(ctx, openid4vc.CredentialRequest{
			Format:               offered.Format,
			Types:                offered.Types,
			CredentialDefinition: offered.CredentialDefinition,
			Proof:                proof,
		}, tokenResponse.AccessToken)
		if err != nil {
			return result, fmt.Errorf("unable to retrieve credential (issuer=%s): %w", offer.CredentialIssuer, err)
		}
		// each response carries a fresh nonce for the next proof
		if response.CNonce != nil {
			cNonce = *response.CNonce
		}
		record, err := r.pipeline.AcceptCredential(*response)
		if err != nil {
			return result, err
		}
		result = append(result, *record)
	}
	logging.Log().WithField("issuer", offer.CredentialIssuer).
		Infof("Redeemed credential offer (credentials=%d)", len(result))
	return result, nil
}

// ResolveDeferred polls the issuer's deferred credential endpoint for a pending wallet
// record. When the issuer has finished issuing, the pending record is replaced by the
// credential; until then the pending record is returned unchanged.
func (r *Redeemer) ResolveDeferred(ctx context.Context, credentialIssuer string, pendingID string) (*WalletCredential, error) {
	pending, err := r.pipeline.wallet.Get(pendingID)
	if err != nil {
		return nil, err
	}
	if !pending.Pending {
		return pending, nil
	}
	client, err := r.newClient(ctx, r.httpClient, credentialIssuer)
	if err != nil {
		return nil, fmt.Errorf("unable to create issuer client (issuer=%s): %w", credentialIssuer, err)
	}
	response, err := client.RequestDeferredCredential(ctx, pending.Document)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve deferred credential (issuer=%s): %w", credentialIssuer, err)
	}
	return r.pipeline.ResolvePending(pendingID, *response)
}

// signProof creates the JWT proof of possession binding the holder key to the
// issuer's audience and the current c_nonce.
func (r *Redeemer) signProof(ctx context.Context, audience string, cNonce string) (*openid4vc.Proof, error) {
	headers := map[string]interface{}{
		"typ": openid4vc.JWTTypeProof,
	}
	claims := map[string]interface{}{
		"aud":   audience,
		"iat":   time.Now().Unix(),
		"nonce": cNonce,
	}
	signed, err := r.signer.SignJWT(ctx, claims, headers, r.kid)
	if err != nil {
		return nil, fmt.Errorf("unable to sign proof of possession: %w", err)
	}
	return &openid4vc.Proof{ProofType: "jwt", Jwt: signed}, nil
}
