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

package issuer

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	credentialsIssued *prometheus.CounterVec
	protocolErrors    *prometheus.CounterVec
}

func newMetrics() (*metrics, error) {
	result := &metrics{
		credentialsIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "waltid",
				Subsystem: "issuer",
				Name:      "credentials_issued_total",
				Help:      "Number of credentials issued, by format",
			},
			[]string{"format"},
		),
		protocolErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "waltid",
				Subsystem: "issuer",
				Name:      "protocol_errors_total",
				Help:      "Number of protocol errors returned, by error code",
			},
			[]string{"code"},
		),
	}
	for _, collector := range []prometheus.Collector{result.credentialsIssued, result.protocolErrors} {
		err := prometheus.Register(collector)
		if err != nil && !errors.As(err, &prometheus.AlreadyRegisteredError{}) {
			return nil, err
		}
	}
	return result, nil
}

func (m *metrics) credentialIssued(format string) {
	m.credentialsIssued.WithLabelValues(format).Inc()
}

func (m *metrics) protocolError(code string) {
	m.protocolErrors.WithLabelValues(code).Inc()
}
