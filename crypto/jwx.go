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

package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrUnsupportedSigningKey is returned when an unsupported private key is used to sign.
var ErrUnsupportedSigningKey = errors.New("signing key algorithm not supported")

// SignJWT signs claims with the given key and returns the compacted token.
// The headers param can be used to add additional protected headers.
func SignJWT(key jwk.Key, claims map[string]interface{}, headers map[string]interface{}) (string, error) {
	t := jwt.New()
	for k, v := range claims {
		if err := t.Set(k, v); err != nil {
			return "", err
		}
	}
	hdr := jws.NewHeaders()
	for k, v := range headers {
		if err := hdr.Set(k, v); err != nil {
			return "", err
		}
	}
	sig, err := jwt.Sign(t, jwt.WithKey(key.Algorithm(), key, jws.WithProtectedHeaders(hdr)))
	if err != nil {
		return "", err
	}
	return string(sig), nil
}

// JWTKidAlg parses a JWT without validating it and returns the 'kid' and 'alg' protected headers.
func JWTKidAlg(tokenString string) (string, jwa.SignatureAlgorithm, error) {
	message, err := jws.ParseString(tokenString)
	if err != nil {
		return "", "", err
	}
	if len(message.Signatures()) != 1 {
		return "", "", errors.New("incorrect number of signatures in JWT")
	}
	headers := message.Signatures()[0].ProtectedHeaders()
	return headers.KeyID(), headers.Algorithm(), nil
}

// PublicKeyFunc defines a function that resolves a public key based on a kid
type PublicKeyFunc func(kid string) (crypto.PublicKey, error)

// ParseJWT parses a token, verifies its signature using the resolved public key and validates the
// standard claims. A malformed token is a parse error, never a panic.
func ParseJWT(tokenString string, f PublicKeyFunc, options ...jwt.ParseOption) (jwt.Token, error) {
	kid, alg, err := JWTKidAlg(tokenString)
	if err != nil {
		return nil, err
	}
	key, err := f(kid)
	if err != nil {
		return nil, err
	}
	options = append(options, jwt.WithKey(alg, key), jwt.WithValidate(true))
	return jwt.ParseString(tokenString, options...)
}

// jwkKey wraps a raw private key as a JWK with the appropriate signature algorithm set.
func jwkKey(rawKey interface{}) (jwk.Key, error) {
	key, err := jwk.FromRaw(rawKey)
	if err != nil {
		return nil, err
	}
	var alg jwa.SignatureAlgorithm
	switch k := rawKey.(type) {
	case ed25519.PrivateKey:
		alg = jwa.EdDSA
	case *ecdsa.PrivateKey:
		alg, err = ecAlg(k)
		if err != nil {
			return nil, err
		}
	case *rsa.PrivateKey:
		alg = jwa.RS256
	default:
		return nil, ErrUnsupportedSigningKey
	}
	if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
		return nil, err
	}
	return key, nil
}

func ecAlg(key *ecdsa.PrivateKey) (jwa.SignatureAlgorithm, error) {
	switch key.Params().BitSize {
	case 256:
		return jwa.ES256, nil
	case 384:
		return jwa.ES384, nil
	case 521:
		return jwa.ES512, nil
	default:
		return "", ErrUnsupportedSigningKey
	}
}
