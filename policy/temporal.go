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

package policy

import (
	"fmt"
	"time"

	"github.com/nuts-foundation/go-did/vc"
)

const (
	// PolicyExpired checks the credential's expiration instant against the evaluation instant.
	PolicyExpired = "expired"
	// PolicyNotBefore checks the credential's validity start against the evaluation instant.
	PolicyNotBefore = "not-before"
)

// ExpiredFailure reports a credential whose expiration instant lies before the evaluation instant.
type ExpiredFailure struct {
	// ExpiredAt is the credential's expiration instant, as epoch seconds.
	ExpiredAt int64 `json:"expired_at"`
	// CheckedAt is the evaluation instant, as epoch seconds.
	CheckedAt int64 `json:"checked_at"`
	// ExpiredSinceSeconds is how long ago the credential expired.
	ExpiredSinceSeconds int64 `json:"expired_since_seconds"`
}

func (f ExpiredFailure) Kind() string {
	return PolicyExpired
}

func (f ExpiredFailure) Describe() string {
	return fmt.Sprintf("credential expired at %s (%d), %d seconds before evaluation at %s (%d)",
		time.Unix(f.ExpiredAt, 0).UTC().Format(time.RFC3339), f.ExpiredAt,
		f.ExpiredSinceSeconds,
		time.Unix(f.CheckedAt, 0).UTC().Format(time.RFC3339), f.CheckedAt)
}

// NotYetValidFailure reports a credential whose validity start lies after the evaluation instant.
type NotYetValidFailure struct {
	// ValidFrom is the credential's validity start, as epoch seconds.
	ValidFrom int64 `json:"valid_from"`
	// CheckedAt is the evaluation instant, as epoch seconds.
	CheckedAt int64 `json:"checked_at"`
	// AvailableInSeconds is how long until the credential becomes valid.
	AvailableInSeconds int64 `json:"available_in_seconds"`
}

func (f NotYetValidFailure) Kind() string {
	return PolicyNotBefore
}

func (f NotYetValidFailure) Describe() string {
	return fmt.Sprintf("credential not valid until %s (%d), %d seconds after evaluation at %s (%d)",
		time.Unix(f.ValidFrom, 0).UTC().Format(time.RFC3339), f.ValidFrom,
		f.AvailableInSeconds,
		time.Unix(f.CheckedAt, 0).UTC().Format(time.RFC3339), f.CheckedAt)
}

// ExpiredPolicy fails when the credential carries an expiration instant that lies
// strictly before the evaluation instant. Credentials without one pass.
type ExpiredPolicy struct{}

func (ExpiredPolicy) Name() string {
	return PolicyExpired
}

func (p ExpiredPolicy) Evaluate(ctx Context, credential vc.VerifiableCredential) Result {
	expiration := credential.ExpirationDate
	if expiration == nil {
		return Pass(p.Name())
	}
	at := ctx.now()
	if !expiration.Before(at) {
		return Pass(p.Name())
	}
	return Fail(p.Name(), ExpiredFailure{
		ExpiredAt:           expiration.Unix(),
		CheckedAt:           at.Unix(),
		ExpiredSinceSeconds: at.Unix() - expiration.Unix(),
	})
}

// NotBeforePolicy fails when the credential's issuance date lies strictly after the
// evaluation instant. Credentials without one pass.
type NotBeforePolicy struct{}

func (NotBeforePolicy) Name() string {
	return PolicyNotBefore
}

func (p NotBeforePolicy) Evaluate(ctx Context, credential vc.VerifiableCredential) Result {
	validFrom := credential.IssuanceDate
	if validFrom.IsZero() {
		return Pass(p.Name())
	}
	at := ctx.now()
	if !validFrom.After(at) {
		return Pass(p.Name())
	}
	return Fail(p.Name(), NotYetValidFailure{
		ValidFrom:          validFrom.Unix(),
		CheckedAt:          at.Unix(),
		AvailableInSeconds: validFrom.Unix() - at.Unix(),
	})
}
