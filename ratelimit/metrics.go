/*
	Copyright NetFoundry, Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package ratelimit

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts decisions by algorithm and outcome.
type Metrics struct {
	decisions *prometheus.CounterVec
}

// NewMetrics registers the decision counter with registerer. Registering twice against the same registerer reuses
// the existing collector.
func NewMetrics(registerer prometheus.Registerer, namespace string) (*Metrics, error) {
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions by algorithm and outcome.",
	}, []string{"algorithm", "outcome"})

	if registerer != nil {
		if err := registerer.Register(decisions); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return nil, errors.Wrap(err, "could not register rate limit metrics")
			}
			existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				return nil, errors.Errorf("collector [%s] already registered with a different type", "decisions_total")
			}
			decisions = existing
		}
	}
	return &Metrics{decisions: decisions}, nil
}

func (m *Metrics) Observe(algorithm Algorithm, decision Decision) {
	outcome := "allowed"
	if !decision.Allowed {
		outcome = "rejected"
	}
	m.decisions.WithLabelValues(string(algorithm), outcome).Inc()
}

func (m *Metrics) Counter(algorithm Algorithm, outcome string) prometheus.Counter {
	return m.decisions.WithLabelValues(string(algorithm), outcome)
}

// Instrument returns a Limiter that observes every decision of limiter into metrics.
func Instrument(limiter Limiter, metrics *Metrics) Limiter {
	if metrics == nil {
		return limiter
	}
	return &instrumented{Limiter: limiter, metrics: metrics}
}

type instrumented struct {
	Limiter
	metrics *Metrics
}

func (i *instrumented) Check(identifier string, limit int, window time.Duration, burst int) Decision {
	decision := i.Limiter.Check(identifier, limit, window, burst)
	i.metrics.Observe(i.Limiter.Algorithm(), decision)
	return decision
}
